package storage

import (
	"errors"
	"sort"
	"sync"
)

type batchOp struct {
	key     string
	value   []byte
	deleted bool
}

// Batch collects writes that must land together.
type Batch struct {
	ops []batchOp
}

// Put queues a write.
func (b *Batch) Put(key, value []byte) {
	b.ops = append(b.ops, batchOp{key: string(key), value: append([]byte(nil), value...)})
}

// Delete queues a removal.
func (b *Batch) Delete(key []byte) {
	b.ops = append(b.ops, batchOp{key: string(key), deleted: true})
}

// Len reports the number of queued operations.
func (b *Batch) Len() int {
	if b == nil {
		return 0
	}
	return len(b.ops)
}

var errOverlayClosed = errors.New("storage: overlay already committed or discarded")

// Overlay buffers reads and writes on top of a base database. Nothing reaches
// the base until Commit, which hands every pending write to the base in one
// batch. Discard drops the pending writes.
type Overlay struct {
	mu      sync.RWMutex
	base    Database
	pending map[string]batchOp
	closed  bool
}

// NewOverlay wraps base in a write buffer.
func NewOverlay(base Database) *Overlay {
	return &Overlay{base: base, pending: make(map[string]batchOp)}
}

func (o *Overlay) Put(key []byte, value []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return errOverlayClosed
	}
	k := string(key)
	o.pending[k] = batchOp{key: k, value: append([]byte(nil), value...)}
	return nil
}

func (o *Overlay) Get(key []byte) ([]byte, error) {
	o.mu.RLock()
	op, ok := o.pending[string(key)]
	o.mu.RUnlock()
	if ok {
		if op.deleted {
			return nil, ErrNotFound
		}
		return append([]byte(nil), op.value...), nil
	}
	return o.base.Get(key)
}

func (o *Overlay) Delete(key []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return errOverlayClosed
	}
	k := string(key)
	o.pending[k] = batchOp{key: k, deleted: true}
	return nil
}

// Write stages the batch inside the overlay.
func (o *Overlay) Write(batch *Batch) error {
	if batch == nil {
		return nil
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return errOverlayClosed
	}
	for _, op := range batch.ops {
		o.pending[op.key] = op
	}
	return nil
}

// Commit flushes staged writes to the base database atomically.
func (o *Overlay) Commit() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return errOverlayClosed
	}
	keys := make([]string, 0, len(o.pending))
	for key := range o.pending {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	batch := &Batch{ops: make([]batchOp, 0, len(keys))}
	for _, key := range keys {
		batch.ops = append(batch.ops, o.pending[key])
	}
	if err := o.base.Write(batch); err != nil {
		return err
	}
	o.pending = make(map[string]batchOp)
	o.closed = true
	return nil
}

// Discard drops every staged write.
func (o *Overlay) Discard() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.pending = make(map[string]batchOp)
	o.closed = true
}

// Close satisfies Database; the base remains open.
func (o *Overlay) Close() {}
