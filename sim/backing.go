package sim

// MemoryBacking is an in-process stand-in for durable storage. Its Load and Save
// methods satisfy LoadFunc and SaveFunc, which makes eviction lossless without a database.
type MemoryBacking[T any] struct {
	data  map[string]T
	clone func(T) T

	Loads int // number of successful loads
	Saves int // number of saves
}

// NewMemoryBacking creates an empty backing. clone, if non-nil, copies payloads on
// save and load so later in-place edits of a cached payload cannot leak into storage.
func NewMemoryBacking[T any](clone func(T) T) *MemoryBacking[T] {
	return &MemoryBacking[T]{data: make(map[string]T), clone: clone}
}

// Load implements LoadFunc.
func (m *MemoryBacking[T]) Load(key string) (LoadResult[T], error) {
	v, ok := m.data[key]
	if !ok {
		return Absent[T](), nil
	}
	m.Loads++
	if m.clone != nil {
		v = m.clone(v)
	}
	return Found(v), nil
}

// Save implements SaveFunc.
func (m *MemoryBacking[T]) Save(key string, payload T, _ Meta) error {
	if m.clone != nil {
		payload = m.clone(payload)
	}
	m.data[key] = payload
	m.Saves++
	return nil
}

// Stored returns the persisted payload for key.
func (m *MemoryBacking[T]) Stored(key string) (T, bool) {
	v, ok := m.data[key]
	return v, ok
}

// Len returns the number of persisted chunks.
func (m *MemoryBacking[T]) Len() int {
	return len(m.data)
}

// StoreConfig returns a config wired to this backing.
func (m *MemoryBacking[T]) StoreConfig(maxChunks int) StoreConfig[T] {
	return StoreConfig[T]{MaxChunks: maxChunks, Load: m.Load, Save: m.Save}
}

// CloneSlice copies a slice payload. Suitable as a MemoryBacking clone func.
func CloneSlice[E any](s []E) []E {
	if s == nil {
		return nil
	}
	out := make([]E, len(s))
	copy(out, s)
	return out
}
