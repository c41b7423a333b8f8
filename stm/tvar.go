package stm

import (
	"sync/atomic"
)

type versioned[A any] struct {
	version uint64
	value   A
}

// TVar is a transactional variable: an id, a version and a value published
// together through one atomic slot. The version increments by exactly one
// on each successful commit touching the variable.
type TVar[A any] struct {
	id    uint64
	space *Space
	cell  atomic.Pointer[versioned[A]]
}

// NewIn allocates a TVar in the given space outside any transaction.
func NewIn[A any](sp *Space, initial A) *TVar[A] {
	t := &TVar[A]{id: sp.ids.Add(1), space: sp}
	t.cell.Store(&versioned[A]{version: 0, value: initial})
	return t
}

// New allocates a TVar in the default space.
func New[A any](initial A) *TVar[A] { return NewIn(defaultSpace, initial) }

// Make allocates a TVar within a transaction, recording the initialization
// in the journal so the first commit publishes it consistently.
func Make[A any](initial A) STM[*TVar[A]] {
	return STM[*TVar[A]]{run: func(j *journal) (*TVar[A], error, ctrl) {
		t := NewIn(j.space, initial)
		j.record(t.id, t.snapshotEntry(initial))
		return t, nil, ctrlOK
	}}
}

// Get reads the variable within the transaction, staging the read in the
// journal for commit-time validation.
func (t *TVar[A]) Get() STM[A] {
	return STM[A]{run: func(j *journal) (A, error, ctrl) {
		e := j.lookup(t.id)
		if e == nil {
			v := t.cell.Load()
			e = t.snapshotEntry(v.value)
			e.expected = v.version
			j.record(t.id, e)
		}
		return e.newValue.(A), nil, ctrlOK
	}}
}

// Set stages a write; it becomes visible only at commit.
func (t *TVar[A]) Set(a A) STM[struct{}] {
	return STM[struct{}]{run: func(j *journal) (struct{}, error, ctrl) {
		e := j.lookup(t.id)
		if e == nil {
			v := t.cell.Load()
			e = t.snapshotEntry(v.value)
			e.expected = v.version
			j.record(t.id, e)
		}
		e.newValue = a
		return struct{}{}, nil, ctrlOK
	}}
}

// Update stages a read-modify-write.
func (t *TVar[A]) Update(f func(A) A) STM[struct{}] {
	return FlatMap(t.Get(), func(a A) STM[struct{}] { return t.Set(f(a)) })
}

// Read returns the committed value outside any transaction.
func (t *TVar[A]) Read() A {
	return t.cell.Load().value
}

func (t *TVar[A]) snapshotEntry(value A) *journalEntry {
	return &journalEntry{
		newValue: value,
		validate: func(expected uint64) bool {
			return t.cell.Load().version == expected
		},
		publish: func(expected uint64, newValue any) {
			t.cell.Store(&versioned[A]{version: expected + 1, value: newValue.(A)})
		},
	}
}

// journalEntry stages one TVar's transaction-local state: the version
// observed at first touch and the pending value.
type journalEntry struct {
	expected uint64
	newValue any
	validate func(expected uint64) bool
	publish  func(expected uint64, newValue any)
}

// journal is the per-attempt staging log, keyed by TVar id with insertion
// order preserved for deterministic commits.
type journal struct {
	space   *Space
	entries map[uint64]*journalEntry
	order   []uint64
}

func newJournal(sp *Space) *journal {
	return &journal{space: sp, entries: make(map[uint64]*journalEntry)}
}

func (j *journal) lookup(id uint64) *journalEntry { return j.entries[id] }

func (j *journal) record(id uint64, e *journalEntry) {
	j.entries[id] = e
	j.order = append(j.order, id)
}

func (j *journal) validate() bool {
	for _, e := range j.entries {
		if !e.validate(e.expected) {
			return false
		}
	}
	return true
}

func (j *journal) commit() {
	for _, id := range j.order {
		e := j.entries[id]
		e.publish(e.expected, e.newValue)
	}
}

// snapshot and restore support OrElse: the left branch's staged state is
// rolled back before the right branch runs.
type journalMark struct {
	entries map[uint64]journalEntry
	order   []uint64
}

func (j *journal) snapshot() journalMark {
	entries := make(map[uint64]journalEntry, len(j.entries))
	for id, e := range j.entries {
		entries[id] = *e
	}
	return journalMark{entries: entries, order: append([]uint64{}, j.order...)}
}

func (j *journal) restore(mark journalMark) {
	j.entries = make(map[uint64]*journalEntry, len(mark.entries))
	for id, e := range mark.entries {
		e := e
		j.entries[id] = &e
	}
	j.order = append([]uint64{}, mark.order...)
}
