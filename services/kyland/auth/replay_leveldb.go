package auth

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

const (
	digestKeyPrefix   = "digest:"
	observedKeyPrefix = "observed:"
)

// LevelDBReplayPersistence provides a LevelDB-backed ReplayPersistence.
type LevelDBReplayPersistence struct {
	db *leveldb.DB
}

// NewLevelDBReplayPersistence opens (or creates) a LevelDB database at path.
func NewLevelDBReplayPersistence(path string) (*LevelDBReplayPersistence, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, fmt.Errorf("leveldb replay persistence path required")
	}
	abs, err := filepath.Abs(trimmed)
	if err != nil {
		return nil, fmt.Errorf("resolve leveldb replay path: %w", err)
	}
	db, err := leveldb.OpenFile(abs, nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb replay store: %w", err)
	}
	return &LevelDBReplayPersistence{db: db}, nil
}

// Close releases the underlying LevelDB resources.
func (p *LevelDBReplayPersistence) Close() error {
	if p == nil || p.db == nil {
		return nil
	}
	return p.db.Close()
}

// EnsureSignature records a digest if it has not been observed previously.
func (p *LevelDBReplayPersistence) EnsureSignature(ctx context.Context, record SignatureRecord) (bool, error) {
	if p == nil || p.db == nil {
		return false, fmt.Errorf("leveldb persistence not configured")
	}
	digest := strings.TrimSpace(record.Digest)
	if digest == "" {
		return false, fmt.Errorf("signature record incomplete")
	}
	observed := record.ObservedAt.UTC()
	if observed.IsZero() {
		observed = time.Now().UTC()
	}
	key := []byte(digestKeyPrefix + digest)
	_, err := p.db.Get(key, nil)
	switch {
	case errors.Is(err, leveldb.ErrNotFound):
	case err != nil:
		return false, fmt.Errorf("load digest: %w", err)
	default:
		return true, nil
	}

	nanos := observed.UnixNano()
	batch := new(leveldb.Batch)
	batch.Put(key, encodeUnixNano(nanos))
	batch.Put([]byte(observedKey(nanos, digest)), nil)
	if err := p.db.Write(batch, nil); err != nil {
		return false, fmt.Errorf("record digest: %w", err)
	}
	return false, nil
}

// RecentSignatures returns digests observed at or after cutoff.
func (p *LevelDBReplayPersistence) RecentSignatures(ctx context.Context, cutoff time.Time) ([]SignatureRecord, error) {
	if p == nil || p.db == nil {
		return nil, fmt.Errorf("leveldb persistence not configured")
	}
	iter := p.db.NewIterator(util.BytesPrefix([]byte(observedKeyPrefix)), nil)
	defer iter.Release()

	records := make([]SignatureRecord, 0)
	for ok := iter.Seek([]byte(observedKey(cutoff.UTC().UnixNano(), ""))); ok; ok = iter.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		digest, nanos, ok := parseObservedKey(iter.Key())
		if !ok {
			continue
		}
		records = append(records, SignatureRecord{Digest: digest, ObservedAt: time.Unix(0, nanos).UTC()})
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("iterate observed digests: %w", err)
	}
	return records, nil
}

// PruneSignatures deletes digests observed before cutoff.
func (p *LevelDBReplayPersistence) PruneSignatures(ctx context.Context, cutoff time.Time) error {
	if p == nil || p.db == nil {
		return fmt.Errorf("leveldb persistence not configured")
	}
	cutoffKey := []byte(observedKey(cutoff.UTC().UnixNano(), ""))
	iter := p.db.NewIterator(util.BytesPrefix([]byte(observedKeyPrefix)), nil)
	defer iter.Release()

	batch := new(leveldb.Batch)
	for iter.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if bytes.Compare(iter.Key(), cutoffKey) >= 0 {
			break
		}
		digest, _, ok := parseObservedKey(iter.Key())
		if !ok {
			continue
		}
		batch.Delete(append([]byte(nil), iter.Key()...))
		batch.Delete([]byte(digestKeyPrefix + digest))
	}
	if err := iter.Error(); err != nil {
		return fmt.Errorf("iterate observed digests: %w", err)
	}
	if batch.Len() > 0 {
		if err := p.db.Write(batch, nil); err != nil {
			return fmt.Errorf("prune digests: %w", err)
		}
	}
	return nil
}

func observedKey(nanos int64, digest string) string {
	return fmt.Sprintf("%s%020d:%s", observedKeyPrefix, nanos, digest)
}

func parseObservedKey(key []byte) (string, int64, bool) {
	parts := strings.SplitN(string(key), ":", 3)
	if len(parts) != 3 || parts[2] == "" {
		return "", 0, false
	}
	nanos, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return "", 0, false
	}
	return parts[2], nanos, true
}

func encodeUnixNano(nanos int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(nanos))
	return buf
}
