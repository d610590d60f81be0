// Package pile implements Pile[T]: a thread-safe, order-preserving
// collection of elements keyed by id, generalized from lionagi's
// collections/generic/pile.py. Unlike the original, a Pile instance is
// constructed once in exactly one concurrency regime — Sync or Async — and
// using the wrong mode's accessors returns a ConfigurationError instead of
// silently mixing a sync.Mutex and an async lock on the same instance.
package pile

import (
	"context"
	"sync"

	"go.lionforge.dev/internal/corefail"
	"go.lionforge.dev/internal/id"
	"go.lionforge.dev/internal/ordering"
)

// Identifiable is any type Pile can hold: it must expose a stable id.
type Identifiable interface {
	Ident() id.ID
}

// Mode selects a Pile's concurrency regime. A Pile is constructed in
// exactly one mode and rejects calls belonging to the other.
type Mode int

const (
	Sync Mode = iota
	Async
)

// Pile is a duplicate-free, insertion-ordered collection of T keyed by id.
type Pile[T Identifiable] struct {
	mode Mode
	mu   sync.Mutex // used when mode == Sync
	alx  asyncLock  // used when mode == Async

	items map[id.ID]T
	order *ordering.Index
}

// asyncLock is a channel-based mutex usable from goroutines awaiting on a
// context, giving Async mode cancelable acquisition the way an
// asyncio.Lock does under `async with`.
type asyncLock chan struct{}

func newAsyncLock() asyncLock {
	l := make(asyncLock, 1)
	return l
}

func (l asyncLock) Lock(ctx context.Context) error {
	select {
	case l <- struct{}{}:
		return nil
	case <-ctx.Done():
		return corefail.Wrap(corefail.KindInternal, "LOCK_CANCELED", "context canceled waiting for pile async lock", ctx.Err())
	}
}

func (l asyncLock) Unlock() { <-l }

// New constructs an empty Pile in the given concurrency mode.
func New[T Identifiable](mode Mode) *Pile[T] {
	return &Pile[T]{
		mode:  mode,
		alx:   newAsyncLock(),
		items: make(map[id.ID]T),
		order: ordering.New(),
	}
}

func wrongMode(want Mode) error {
	name := "Sync"
	if want == Async {
		name = "Async"
	}
	return corefail.New(corefail.KindConfigurationError, "WRONG_PILE_MODE", "pile must be used in "+name+" mode for this operation")
}

// --- Sync interface ---

// Include adds item if its id is not already present. Sync mode only.
func (p *Pile[T]) Include(item T) error {
	if p.mode != Sync {
		return wrongMode(Sync)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.includeLocked(item)
	return nil
}

func (p *Pile[T]) includeLocked(item T) {
	i := item.Ident()
	if _, ok := p.items[i]; ok {
		return
	}
	p.items[i] = item
	p.order.Append(i)
}

// Exclude removes the item with the given id, if present. Sync mode only.
func (p *Pile[T]) Exclude(i id.ID) error {
	if p.mode != Sync {
		return wrongMode(Sync)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.items, i)
	p.order.Remove(i)
	return nil
}

// Get returns the item with the given id. Sync mode only.
func (p *Pile[T]) Get(i id.ID) (T, error) {
	var zero T
	if p.mode != Sync {
		return zero, wrongMode(Sync)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.items[i]
	if !ok {
		return zero, corefail.New(corefail.KindNotFound, "ITEM_NOT_FOUND", "no item with that id in pile")
	}
	return v, nil
}

// Pop removes and returns the item with the given id. Sync mode only.
func (p *Pile[T]) Pop(i id.ID) (T, error) {
	var zero T
	if p.mode != Sync {
		return zero, wrongMode(Sync)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.items[i]
	if !ok {
		return zero, corefail.New(corefail.KindNotFound, "ITEM_NOT_FOUND", "no item with that id in pile")
	}
	delete(p.items, i)
	p.order.Remove(i)
	return v, nil
}

// PopFront removes and returns the first item in insertion order. Sync
// mode only.
func (p *Pile[T]) PopFront() (T, error) {
	var zero T
	if p.mode != Sync {
		return zero, wrongMode(Sync)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	first, err := p.order.PopFront()
	if err != nil {
		return zero, err
	}
	v := p.items[first]
	delete(p.items, first)
	return v, nil
}

// Update inserts or replaces item by its id, preserving position if
// already present. Sync mode only.
func (p *Pile[T]) Update(item T) error {
	if p.mode != Sync {
		return wrongMode(Sync)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	i := item.Ident()
	if _, ok := p.items[i]; !ok {
		p.order.Append(i)
	}
	p.items[i] = item
	return nil
}

// Size returns the number of items held. Sync mode only.
func (p *Pile[T]) Size() (int, error) {
	if p.mode != Sync {
		return 0, wrongMode(Sync)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.items), nil
}

// IsEmpty reports whether the pile holds no items. Sync mode only.
func (p *Pile[T]) IsEmpty() (bool, error) {
	n, err := p.Size()
	return n == 0, err
}

// Contains reports whether i is present. Sync mode only.
func (p *Pile[T]) Contains(i id.ID) (bool, error) {
	if p.mode != Sync {
		return false, wrongMode(Sync)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.items[i]
	return ok, nil
}

// Keys returns the ids in insertion order. Sync mode only.
func (p *Pile[T]) Keys() ([]id.ID, error) {
	if p.mode != Sync {
		return nil, wrongMode(Sync)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.order.ToSlice(), nil
}

// Values returns the items in insertion order. Sync mode only.
func (p *Pile[T]) Values() ([]T, error) {
	if p.mode != Sync {
		return nil, wrongMode(Sync)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	keys := p.order.ToSlice()
	out := make([]T, 0, len(keys))
	for _, k := range keys {
		out = append(out, p.items[k])
	}
	return out, nil
}

// --- Async interface ---

// AInclude adds item if not already present, under the async lock.
func (p *Pile[T]) AInclude(ctx context.Context, item T) error {
	if p.mode != Async {
		return wrongMode(Async)
	}
	if err := p.alx.Lock(ctx); err != nil {
		return err
	}
	defer p.alx.Unlock()
	p.includeLocked(item)
	return nil
}

// AGet returns the item with the given id, under the async lock.
func (p *Pile[T]) AGet(ctx context.Context, i id.ID) (T, error) {
	var zero T
	if p.mode != Async {
		return zero, wrongMode(Async)
	}
	if err := p.alx.Lock(ctx); err != nil {
		return zero, err
	}
	defer p.alx.Unlock()
	v, ok := p.items[i]
	if !ok {
		return zero, corefail.New(corefail.KindNotFound, "ITEM_NOT_FOUND", "no item with that id in pile")
	}
	return v, nil
}

// APopFront removes and returns the first item in insertion order, under
// the async lock.
func (p *Pile[T]) APopFront(ctx context.Context) (T, error) {
	var zero T
	if p.mode != Async {
		return zero, wrongMode(Async)
	}
	if err := p.alx.Lock(ctx); err != nil {
		return zero, err
	}
	defer p.alx.Unlock()
	first, err := p.order.PopFront()
	if err != nil {
		return zero, err
	}
	v := p.items[first]
	delete(p.items, first)
	return v, nil
}

// ASize returns the number of items held, under the async lock.
func (p *Pile[T]) ASize(ctx context.Context) (int, error) {
	if p.mode != Async {
		return 0, wrongMode(Async)
	}
	if err := p.alx.Lock(ctx); err != nil {
		return 0, err
	}
	defer p.alx.Unlock()
	return len(p.items), nil
}

// AValues returns the items in insertion order, under the async lock.
func (p *Pile[T]) AValues(ctx context.Context) ([]T, error) {
	if p.mode != Async {
		return nil, wrongMode(Async)
	}
	if err := p.alx.Lock(ctx); err != nil {
		return nil, err
	}
	defer p.alx.Unlock()
	keys := p.order.ToSlice()
	out := make([]T, 0, len(keys))
	for _, k := range keys {
		out = append(out, p.items[k])
	}
	return out, nil
}

// Insert places item at position pos, shifting subsequent entries right.
// Returns AlreadyExists if item's id is already present. Sync mode only.
func (p *Pile[T]) Insert(pos int, item T) error {
	if p.mode != Sync {
		return wrongMode(Sync)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	i := item.Ident()
	if err := p.order.InsertAt(pos, i); err != nil {
		return err
	}
	p.items[i] = item
	return nil
}

// At returns the item at position pos in insertion order. Sync mode only.
func (p *Pile[T]) At(pos int) (T, error) {
	var zero T
	if p.mode != Sync {
		return zero, wrongMode(Sync)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	i, err := p.order.At(pos)
	if err != nil {
		return zero, err
	}
	return p.items[i], nil
}

// GetDefault returns the item with the given id, or def if absent. Sync
// mode only.
func (p *Pile[T]) GetDefault(i id.ID, def T) (T, error) {
	if p.mode != Sync {
		return def, wrongMode(Sync)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if v, ok := p.items[i]; ok {
		return v, nil
	}
	return def, nil
}

// PopDefault removes and returns the item with the given id, or def if
// absent (the pile is left unchanged in that case). Sync mode only.
func (p *Pile[T]) PopDefault(i id.ID, def T) (T, error) {
	if p.mode != Sync {
		return def, wrongMode(Sync)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.items[i]
	if !ok {
		return def, nil
	}
	delete(p.items, i)
	p.order.Remove(i)
	return v, nil
}

// Entry pairs an id with its item, the element Items returns.
type Entry[T Identifiable] struct {
	ID   id.ID
	Item T
}

// Items returns (id, item) pairs in insertion order. Sync mode only.
func (p *Pile[T]) Items() ([]Entry[T], error) {
	if p.mode != Sync {
		return nil, wrongMode(Sync)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	keys := p.order.ToSlice()
	out := make([]Entry[T], 0, len(keys))
	for _, k := range keys {
		out = append(out, Entry[T]{ID: k, Item: p.items[k]})
	}
	return out, nil
}

// --- Set algebra (Sync mode only; operates on a snapshot) ---

// Filter returns a new Sync Pile containing only items for which pred
// returns true.
func (p *Pile[T]) Filter(pred func(T) bool) (*Pile[T], error) {
	vals, err := p.Values()
	if err != nil {
		return nil, err
	}
	out := New[T](Sync)
	for _, v := range vals {
		if pred(v) {
			out.includeLocked(v)
		}
	}
	return out, nil
}

// Union returns a new Sync Pile containing every item in p, followed by
// every item in other not already present in p — the set-algebra `|` from
// lionagi's Pile.__or__.
func (p *Pile[T]) Union(other *Pile[T]) (*Pile[T], error) {
	selfVals, err := p.Values()
	if err != nil {
		return nil, err
	}
	otherVals, err := other.Values()
	if err != nil {
		return nil, err
	}
	out := New[T](Sync)
	for _, v := range selfVals {
		out.includeLocked(v)
	}
	for _, v := range otherVals {
		out.includeLocked(v)
	}
	return out, nil
}

// Intersect returns a new Sync Pile containing only items present in both
// p and other, in p's order — the set-algebra `&` from lionagi's
// Pile.__and__.
func (p *Pile[T]) Intersect(other *Pile[T]) (*Pile[T], error) {
	selfVals, err := p.Values()
	if err != nil {
		return nil, err
	}
	out := New[T](Sync)
	for _, v := range selfVals {
		ok, err := other.Contains(v.Ident())
		if err != nil {
			return nil, err
		}
		if ok {
			out.includeLocked(v)
		}
	}
	return out, nil
}

// SymmetricDifference returns a new Sync Pile containing items present in
// exactly one of p or other — the set-algebra `^` from lionagi's
// Pile.__xor__.
func (p *Pile[T]) SymmetricDifference(other *Pile[T]) (*Pile[T], error) {
	selfVals, err := p.Values()
	if err != nil {
		return nil, err
	}
	otherVals, err := other.Values()
	if err != nil {
		return nil, err
	}
	out := New[T](Sync)
	for _, v := range selfVals {
		ok, err := other.Contains(v.Ident())
		if err != nil {
			return nil, err
		}
		if !ok {
			out.includeLocked(v)
		}
	}
	for _, v := range otherVals {
		ok, err := p.Contains(v.Ident())
		if err != nil {
			return nil, err
		}
		if !ok {
			out.includeLocked(v)
		}
	}
	return out, nil
}
