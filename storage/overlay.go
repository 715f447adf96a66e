package storage

// Overlay buffers writes against a base Database. Reads see buffered writes
// first and fall through to the base; nothing reaches the base until Commit.
// Dropping an uncommitted overlay discards its writes, which is how mutating
// ledger operations roll back when a step fails partway through.
type Overlay struct {
	base    Database
	pending map[string][]byte
	deleted map[string]bool
}

// NewOverlay creates an empty write buffer over base.
func NewOverlay(base Database) *Overlay {
	return &Overlay{
		base:    base,
		pending: make(map[string][]byte),
		deleted: make(map[string]bool),
	}
}

func (o *Overlay) Put(key, value []byte) error {
	cp := make([]byte, len(value))
	copy(cp, value)
	delete(o.deleted, string(key))
	o.pending[string(key)] = cp
	return nil
}

func (o *Overlay) Get(key []byte) ([]byte, error) {
	if o.deleted[string(key)] {
		return nil, ErrKeyNotFound
	}
	if value, ok := o.pending[string(key)]; ok {
		cp := make([]byte, len(value))
		copy(cp, value)
		return cp, nil
	}
	return o.base.Get(key)
}

func (o *Overlay) Has(key []byte) (bool, error) {
	if o.deleted[string(key)] {
		return false, nil
	}
	if _, ok := o.pending[string(key)]; ok {
		return true, nil
	}
	return o.base.Has(key)
}

func (o *Overlay) Delete(key []byte) error {
	delete(o.pending, string(key))
	o.deleted[string(key)] = true
	return nil
}

// Close discards the buffer without touching the base.
func (o *Overlay) Close() error {
	o.pending = make(map[string][]byte)
	o.deleted = make(map[string]bool)
	return nil
}

// Commit flushes the buffered writes to the base database and clears the
// buffer. A key is never in both maps: Put and Delete each clear the other's
// entry, so the apply order does not matter.
func (o *Overlay) Commit() error {
	for key := range o.deleted {
		if err := o.base.Delete([]byte(key)); err != nil {
			return err
		}
	}
	for key, value := range o.pending {
		if err := o.base.Put([]byte(key), value); err != nil {
			return err
		}
	}
	o.pending = make(map[string][]byte)
	o.deleted = make(map[string]bool)
	return nil
}
