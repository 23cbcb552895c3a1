package sim

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
)

// ErrInvalidConfig is returned when a component is configured with out-of-range values.
var ErrInvalidConfig = errors.New("invalid configuration")

// LoadStatus distinguishes a payload that was found from one that does not exist.
type LoadStatus int

const (
	// LoadAbsent means no payload exists for the key (or no load hook is configured).
	LoadAbsent LoadStatus = iota
	// LoadFound means Payload holds the chunk contents.
	LoadFound
)

// LoadResult is the outcome of a chunk lookup.
type LoadResult[T any] struct {
	Status  LoadStatus
	Payload T
}

// Found wraps a payload that exists.
func Found[T any](payload T) LoadResult[T] {
	return LoadResult[T]{Status: LoadFound, Payload: payload}
}

// Absent reports a missing payload.
func Absent[T any]() LoadResult[T] {
	return LoadResult[T]{Status: LoadAbsent}
}

// Ok reports whether the payload was found.
func (r LoadResult[T]) Ok() bool {
	return r.Status == LoadFound
}

// Meta is caller-owned metadata stored beside a chunk and handed to the save hook.
type Meta map[string]string

// LoadFunc fetches a chunk from external storage. Must be synchronous.
type LoadFunc[T any] func(key string) (LoadResult[T], error)

// SaveFunc writes a chunk to external storage. Must be synchronous.
type SaveFunc[T any] func(key string, payload T, meta Meta) error

// EvictFunc is notified after a chunk leaves the cache.
type EvictFunc[T any] func(key string, payload T, meta Meta)

// StoreConfig configures a ChunkStore. Nil hooks are allowed.
type StoreConfig[T any] struct {
	MaxChunks int
	Load      LoadFunc[T]
	Save      SaveFunc[T]
	OnEvict   EvictFunc[T]
}

// chunkEntry is one cached chunk. Entries form an intrusive LRU list:
// head is least recently used, tail is most recently used.
type chunkEntry[T any] struct {
	key     string
	payload T
	dirty   bool // dirty=false means the last save matches payload
	meta    Meta
	prev    *chunkEntry[T]
	next    *chunkEntry[T]
}

// ChunkStore is a capacity-bounded cache of string-keyed payloads with LRU eviction,
// per-chunk dirty tracking and caller-supplied load/save delegation.
//
// Callers that mutate a payload in place must call MarkDirty afterwards; the store
// cannot observe in-place edits.
//
// Thread-safety: NOT thread-safe. Must be called from the tick goroutine.
type ChunkStore[T any] struct {
	cfg     StoreConfig[T]
	entries map[string]*chunkEntry[T]
	head    *chunkEntry[T]
	tail    *chunkEntry[T]
}

// NewChunkStore creates an empty store.
func NewChunkStore[T any](cfg StoreConfig[T]) (*ChunkStore[T], error) {
	cs := &ChunkStore[T]{entries: make(map[string]*chunkEntry[T])}
	if err := cs.Configure(cfg); err != nil {
		return nil, err
	}
	return cs, nil
}

// Configure replaces the store configuration. Shrinking MaxChunks evicts immediately.
func (cs *ChunkStore[T]) Configure(cfg StoreConfig[T]) error {
	if cfg.MaxChunks <= 0 {
		return fmt.Errorf("%w: max chunks must be positive, got %d", ErrInvalidConfig, cfg.MaxChunks)
	}
	cs.cfg = cfg
	cs.enforceCapacity()
	return nil
}

// MaxChunks returns the configured capacity.
func (cs *ChunkStore[T]) MaxChunks() int {
	return cs.cfg.MaxChunks
}

// Len returns the number of cached chunks.
func (cs *ChunkStore[T]) Len() int {
	return len(cs.entries)
}

// Keys returns cached keys from least to most recently used.
func (cs *ChunkStore[T]) Keys() []string {
	keys := make([]string, 0, len(cs.entries))
	for e := cs.head; e != nil; e = e.next {
		keys = append(keys, e.key)
	}
	return keys
}

// GetChunk returns the cached payload for key, consulting the load hook on a miss.
// Found payloads are cached; absent ones are not.
func (cs *ChunkStore[T]) GetChunk(key string) (LoadResult[T], error) {
	if e, ok := cs.entries[key]; ok {
		cs.touch(e)
		return Found(e.payload), nil
	}
	if cs.cfg.Load == nil {
		return Absent[T](), nil
	}
	res, err := cs.cfg.Load(key)
	if err != nil {
		return Absent[T](), fmt.Errorf("loading chunk %q: %w", key, err)
	}
	if !res.Ok() {
		return res, nil
	}
	cs.insert(&chunkEntry[T]{key: key, payload: res.Payload})
	return res, nil
}

// Peek returns a cached payload without loading and without changing recency.
func (cs *ChunkStore[T]) Peek(key string) (T, bool) {
	if e, ok := cs.entries[key]; ok {
		return e.payload, true
	}
	var zero T
	return zero, false
}

// SetOption adjusts a SetChunk call.
type SetOption func(*setOptions)

type setOptions struct {
	dirty bool
	meta  Meta
}

// WithDirty overrides the default dirty=true of SetChunk.
func WithDirty(dirty bool) SetOption {
	return func(o *setOptions) { o.dirty = dirty }
}

// WithMeta attaches metadata to the chunk.
func WithMeta(meta Meta) SetOption {
	return func(o *setOptions) { o.meta = meta }
}

// SetChunk stores payload under key as most recently used. Chunks are dirty by default.
func (cs *ChunkStore[T]) SetChunk(key string, payload T, opts ...SetOption) {
	o := setOptions{dirty: true}
	for _, opt := range opts {
		opt(&o)
	}
	if e, ok := cs.entries[key]; ok {
		e.payload = payload
		e.dirty = o.dirty
		if o.meta != nil {
			e.meta = o.meta
		}
		cs.touch(e)
		return
	}
	cs.insert(&chunkEntry[T]{key: key, payload: payload, dirty: o.dirty, meta: o.meta})
}

// MarkDirty sets the dirty flag of a cached chunk. Returns false if key is not cached.
func (cs *ChunkStore[T]) MarkDirty(key string, dirty bool) bool {
	e, ok := cs.entries[key]
	if !ok {
		return false
	}
	e.dirty = dirty
	return true
}

// IsDirty reports whether a cached chunk has unsaved changes.
func (cs *ChunkStore[T]) IsDirty(key string) bool {
	e, ok := cs.entries[key]
	return ok && e.dirty
}

// Flush saves dirty chunks. With no keys every cached chunk is a target.
// Without a save hook flush is skipped and chunks stay dirty in memory.
func (cs *ChunkStore[T]) Flush(keys ...string) error {
	if cs.cfg.Save == nil {
		return nil
	}
	if len(keys) == 0 {
		keys = cs.Keys()
	}
	var errs []error
	for _, key := range keys {
		e, ok := cs.entries[key]
		if !ok || !e.dirty {
			continue
		}
		if err := cs.save(e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (cs *ChunkStore[T]) save(e *chunkEntry[T]) error {
	if cs.cfg.Save == nil || !e.dirty {
		return nil
	}
	if err := cs.cfg.Save(e.key, e.payload, e.meta); err != nil {
		return fmt.Errorf("saving chunk %q: %w", e.key, err)
	}
	e.dirty = false
	return nil
}

// Evict removes key from the cache, saving it first when flush is set.
// If the save fails the chunk stays cached and the error is returned.
func (cs *ChunkStore[T]) Evict(key string, flush bool) error {
	e, ok := cs.entries[key]
	if !ok {
		return nil
	}
	if flush {
		if err := cs.save(e); err != nil {
			return err
		}
	}
	cs.remove(e)
	return nil
}

// Clear removes every chunk, optionally flushing them first.
func (cs *ChunkStore[T]) Clear(flush bool) error {
	var errs []error
	for _, key := range cs.Keys() {
		if err := cs.Evict(key, flush); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// enforceCapacity evicts least recently used chunks until within MaxChunks.
// A failed save is logged and the chunk is evicted anyway.
func (cs *ChunkStore[T]) enforceCapacity() {
	for len(cs.entries) > cs.cfg.MaxChunks && cs.head != nil {
		victim := cs.head
		if err := cs.save(victim); err != nil {
			logrus.WithField("chunk", victim.key).Errorf("chunk store: dropping unsaved chunk on eviction: %v", err)
		}
		cs.remove(victim)
	}
}

func (cs *ChunkStore[T]) insert(e *chunkEntry[T]) {
	cs.entries[e.key] = e
	cs.appendEntry(e)
	cs.enforceCapacity()
}

func (cs *ChunkStore[T]) remove(e *chunkEntry[T]) {
	cs.unlink(e)
	delete(cs.entries, e.key)
	if cs.cfg.OnEvict != nil {
		cs.cfg.OnEvict(e.key, e.payload, e.meta)
	}
}

// touch marks e as most recently used.
func (cs *ChunkStore[T]) touch(e *chunkEntry[T]) {
	if cs.tail == e {
		return
	}
	cs.unlink(e)
	cs.appendEntry(e)
}

// appendEntry inserts e at the tail of the LRU list.
func (cs *ChunkStore[T]) appendEntry(e *chunkEntry[T]) {
	e.next = nil
	if cs.tail != nil {
		cs.tail.next = e
		e.prev = cs.tail
		cs.tail = e
	} else {
		// empty list
		cs.head = e
		cs.tail = e
		e.prev = nil
	}
}

// unlink detaches e from the LRU list.
func (cs *ChunkStore[T]) unlink(e *chunkEntry[T]) {
	if e.prev != nil {
		// a - e - b => a - b
		e.prev.next = e.next
	} else {
		cs.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		cs.tail = e.prev
	}
	e.next = nil
	e.prev = nil
}
