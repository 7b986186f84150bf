package auth

import (
	"container/list"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"kylan/crypto"
)

const (
	// HeaderTimestamp is the unix timestamp (seconds) used when signing the request.
	HeaderTimestamp = "X-Kylan-Timestamp"
	// HeaderSignature carries the hex-encoded 65-byte recoverable signature.
	HeaderSignature = "X-Kylan-Signature"
	// MaxBodyForSignature is the maximum body size we will hash when authenticating.
	MaxBodyForSignature int = 1 << 20 // 1 MiB

	maxAllowedTimestampSkew  = 10 * time.Minute
	defaultTimestampSkew     = 2 * time.Minute
	defaultCacheCapacity     = 8192
	maxCacheCapacity         = 65536
	persistencePruneInterval = time.Minute
)

var (
	ErrMissingHeaders = errors.New("auth: missing signature headers")
	ErrStaleTimestamp = errors.New("auth: timestamp outside allowed window")
	ErrBadSignature   = errors.New("auth: invalid signature")
	ErrReplayed       = errors.New("auth: signature already used")
	ErrBodyTooLarge   = fmt.Errorf("auth: request body exceeds %d bytes", MaxBodyForSignature)
)

// SignatureRecord captures persisted usage of a signed request digest. The
// digest rather than the signature is tracked so a re-encoded signature over
// the same request is still a replay.
type SignatureRecord struct {
	Digest     string
	ObservedAt time.Time
}

// ReplayPersistence provides durable storage for used request digests so
// replay protection survives restarts.
type ReplayPersistence interface {
	EnsureSignature(ctx context.Context, record SignatureRecord) (bool, error)
	RecentSignatures(ctx context.Context, cutoff time.Time) ([]SignatureRecord, error)
	PruneSignatures(ctx context.Context, cutoff time.Time) error
}

// Authenticator verifies signed requests and recovers the calling address.
type Authenticator struct {
	window time.Duration
	nowFn  func() time.Time
	seen   *signatureCache

	persistMu   sync.Mutex
	persistence ReplayPersistence
	lastPruned  time.Time
}

// NewAuthenticator builds an Authenticator accepting timestamps within window
// of the local clock. Signatures are remembered for twice the window.
func NewAuthenticator(window time.Duration, capacity int, nowFn func() time.Time, persistence ReplayPersistence) *Authenticator {
	if nowFn == nil {
		nowFn = time.Now
	}
	if window <= 0 {
		window = defaultTimestampSkew
	}
	if window > maxAllowedTimestampSkew {
		window = maxAllowedTimestampSkew
	}
	return &Authenticator{
		window:      window,
		nowFn:       nowFn,
		seen:        newSignatureCache(2*window, capacity),
		persistence: persistence,
	}
}

// Window reports the accepted timestamp skew.
func (a *Authenticator) Window() time.Duration { return a.window }

// Authenticate validates headers and signature, returning the caller address.
func (a *Authenticator) Authenticate(r *http.Request, body []byte) (crypto.Address, error) {
	if len(body) > MaxBodyForSignature {
		return crypto.Address{}, ErrBodyTooLarge
	}
	timestampHeader := strings.TrimSpace(r.Header.Get(HeaderTimestamp))
	sigHeader := strings.TrimSpace(r.Header.Get(HeaderSignature))
	if timestampHeader == "" || sigHeader == "" {
		return crypto.Address{}, ErrMissingHeaders
	}
	ts, err := parseUnixTimestamp(timestampHeader)
	if err != nil {
		return crypto.Address{}, fmt.Errorf("%w: %v", ErrStaleTimestamp, err)
	}
	now := a.nowFn().UTC()
	skew := now.Sub(ts)
	if skew < 0 {
		skew = -skew
	}
	if skew > a.window {
		return crypto.Address{}, ErrStaleTimestamp
	}
	sig, err := hex.DecodeString(strings.TrimPrefix(sigHeader, "0x"))
	if err != nil || len(sig) != crypto.SignatureLength {
		return crypto.Address{}, ErrBadSignature
	}
	digest := crypto.RequestDigest(r.Method, CanonicalRequestPath(r), timestampHeader, body)
	caller, err := crypto.RecoverAddress(digest, sig)
	if err != nil {
		return crypto.Address{}, ErrBadSignature
	}
	duplicate, err := a.registerSignature(r.Context(), hex.EncodeToString(digest), now)
	if err != nil {
		return crypto.Address{}, err
	}
	if duplicate {
		return crypto.Address{}, ErrReplayed
	}
	return caller, nil
}

// HydrateSignatures warms the in-memory cache with persisted usage records.
func (a *Authenticator) HydrateSignatures(ctx context.Context) error {
	if a == nil || a.persistence == nil {
		return nil
	}
	cutoff := a.nowFn().UTC().Add(-a.seen.ttl)
	records, err := a.persistence.RecentSignatures(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("load persistent signatures: %w", err)
	}
	for _, rec := range records {
		if strings.TrimSpace(rec.Digest) == "" {
			continue
		}
		observed := rec.ObservedAt
		if observed.IsZero() {
			observed = cutoff
		}
		a.seen.Add(rec.Digest, observed)
	}
	return nil
}

func (a *Authenticator) registerSignature(ctx context.Context, digest string, now time.Time) (bool, error) {
	if a.seen.Contains(digest, now) {
		return true, nil
	}
	if a.persistence != nil {
		if err := a.prunePersistent(ctx, now); err != nil {
			return false, err
		}
		existed, err := a.persistence.EnsureSignature(ctx, SignatureRecord{Digest: digest, ObservedAt: now})
		if err != nil {
			return false, fmt.Errorf("persist signature: %w", err)
		}
		if existed {
			a.seen.Add(digest, now)
			return true, nil
		}
	}
	return a.seen.Seen(digest, now), nil
}

func (a *Authenticator) prunePersistent(ctx context.Context, now time.Time) error {
	a.persistMu.Lock()
	defer a.persistMu.Unlock()
	if a.lastPruned.IsZero() || now.Sub(a.lastPruned) >= persistencePruneInterval {
		if err := a.persistence.PruneSignatures(ctx, now.Add(-a.seen.ttl)); err != nil {
			return fmt.Errorf("prune persistent signatures: %w", err)
		}
		a.lastPruned = now
	}
	return nil
}

// Sign sets the timestamp and signature headers on req for body.
func Sign(req *http.Request, key *crypto.PrivateKey, body []byte, now time.Time) error {
	timestamp := strconv.FormatInt(now.Unix(), 10)
	sig, err := key.Sign(crypto.RequestDigest(req.Method, CanonicalRequestPath(req), timestamp, body))
	if err != nil {
		return err
	}
	req.Header.Set(HeaderTimestamp, timestamp)
	req.Header.Set(HeaderSignature, hex.EncodeToString(sig))
	return nil
}

// CanonicalRequestPath normalises URL paths and query ordering for signing.
func CanonicalRequestPath(r *http.Request) string {
	path := r.URL.Path
	if path == "" {
		path = "/"
	}
	if r.URL.RawQuery != "" {
		path += "?" + CanonicalQuery(r.URL.RawQuery)
	}
	return path
}

// CanonicalQuery normalises raw query strings for stable signing.
func CanonicalQuery(raw string) string {
	if raw == "" {
		return ""
	}
	parts := strings.Split(raw, "&")
	sort.Strings(parts)
	return strings.Join(parts, "&")
}

func parseUnixTimestamp(v string) (time.Time, error) {
	secs, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(secs, 0).UTC(), nil
}

type signatureCache struct {
	ttl      time.Duration
	capacity int

	mu      sync.Mutex
	entries map[string]*list.Element
	order   *list.List
}

type cacheEntry struct {
	key string
	ts  time.Time
}

func newSignatureCache(ttl time.Duration, capacity int) *signatureCache {
	if capacity <= 0 {
		capacity = defaultCacheCapacity
	}
	if capacity > maxCacheCapacity {
		capacity = maxCacheCapacity
	}
	return &signatureCache{
		ttl:      ttl,
		capacity: capacity,
		entries:  make(map[string]*list.Element),
		order:    list.New(),
	}
}

// Seen returns true if key was already observed within the TTL, recording it otherwise.
func (c *signatureCache) Seen(key string, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evictExpired(now.Add(-c.ttl))
	if _, exists := c.entries[key]; exists {
		return true
	}
	c.insertLocked(key, now)
	return false
}

// Contains reports whether key has been observed without recording it.
func (c *signatureCache) Contains(key string, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evictExpired(now.Add(-c.ttl))
	_, exists := c.entries[key]
	return exists
}

// Add registers key, applying eviction as required.
func (c *signatureCache) Add(key string, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evictExpired(now.Add(-c.ttl))
	c.insertLocked(key, now)
}

func (c *signatureCache) insertLocked(key string, now time.Time) {
	if elem, exists := c.entries[key]; exists {
		elem.Value = cacheEntry{key: key, ts: now}
		c.order.MoveToBack(elem)
		return
	}
	for c.order.Len() >= c.capacity {
		front := c.order.Front()
		entry := front.Value.(cacheEntry)
		c.order.Remove(front)
		delete(c.entries, entry.key)
	}
	c.entries[key] = c.order.PushBack(cacheEntry{key: key, ts: now})
}

func (c *signatureCache) evictExpired(cutoff time.Time) {
	for {
		front := c.order.Front()
		if front == nil {
			return
		}
		entry := front.Value.(cacheEntry)
		if !entry.ts.Before(cutoff) {
			return
		}
		c.order.Remove(front)
		delete(c.entries, entry.key)
	}
}
