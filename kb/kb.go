package kb

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/signalsfoundry/railsection-simulator/model"
)

var (
	// ErrCaseNotFound is returned when a case ID is not registered.
	ErrCaseNotFound = errors.New("case not found")
	// ErrCaseExists is returned when registering a duplicate case ID.
	ErrCaseExists = errors.New("case already exists")
)

// EventType indicates what kind of change happened in the book.
type EventType int

const (
	EventCaseAdded EventType = iota
	EventCaseReplaced
	EventCaseRemoved
)

// Event is emitted to subscribers when the set of cases changes.
type Event struct {
	Type   EventType
	CaseID string
}

// CaseBook is an in-memory, thread-safe registry of named cases. Cases are
// treated as immutable once added.
type CaseBook struct {
	mu    sync.RWMutex
	cases map[string]*model.Case

	subs   map[int]func(Event)
	nextID int
}

// NewCaseBook constructs an empty book.
func NewCaseBook() *CaseBook {
	return &CaseBook{
		cases: make(map[string]*model.Case),
		subs:  make(map[int]func(Event)),
	}
}

// Add registers a case. It returns ErrCaseExists if the ID is taken.
func (b *CaseBook) Add(c *model.Case) error {
	if c == nil || c.ID == "" {
		return fmt.Errorf("%w: case must have an id", model.ErrInvalidCase)
	}
	b.mu.Lock()
	if _, exists := b.cases[c.ID]; exists {
		b.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrCaseExists, c.ID)
	}
	b.cases[c.ID] = c
	subs := b.snapshotSubs()
	b.mu.Unlock()

	notify(subs, Event{Type: EventCaseAdded, CaseID: c.ID})
	return nil
}

// Put adds or replaces a case.
func (b *CaseBook) Put(c *model.Case) error {
	if c == nil || c.ID == "" {
		return fmt.Errorf("%w: case must have an id", model.ErrInvalidCase)
	}
	b.mu.Lock()
	typ := EventCaseAdded
	if _, exists := b.cases[c.ID]; exists {
		typ = EventCaseReplaced
	}
	b.cases[c.ID] = c
	subs := b.snapshotSubs()
	b.mu.Unlock()

	notify(subs, Event{Type: typ, CaseID: c.ID})
	return nil
}

// Remove deletes a case.
func (b *CaseBook) Remove(id string) error {
	b.mu.Lock()
	if _, ok := b.cases[id]; !ok {
		b.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrCaseNotFound, id)
	}
	delete(b.cases, id)
	subs := b.snapshotSubs()
	b.mu.Unlock()

	notify(subs, Event{Type: EventCaseRemoved, CaseID: id})
	return nil
}

// Get returns the case with the given ID.
func (b *CaseBook) Get(id string) (*model.Case, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	c, ok := b.cases[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrCaseNotFound, id)
	}
	return c, nil
}

// List returns all cases ordered by ID.
func (b *CaseBook) List() []*model.Case {
	b.mu.RLock()
	defer b.mu.RUnlock()

	res := make([]*model.Case, 0, len(b.cases))
	for _, c := range b.cases {
		res = append(res, c)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res
}

// Len returns the number of registered cases.
func (b *CaseBook) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.cases)
}

// Subscribe registers a callback for book events. It returns an unsubscribe
// function.
func (b *CaseBook) Subscribe(fn func(Event)) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.subs[id] = fn

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs, id)
	}
}

func (b *CaseBook) snapshotSubs() []func(Event) {
	ids := make([]int, 0, len(b.subs))
	for id := range b.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	out := make([]func(Event), 0, len(ids))
	for _, id := range ids {
		out = append(out, b.subs[id])
	}
	return out
}

// notify runs callbacks outside the lock so they may call back into the
// book.
func notify(subs []func(Event), ev Event) {
	for _, fn := range subs {
		fn(ev)
	}
}
