package journal

import (
	"sync"

	"github.com/dualtree-project/dualtree/build"
)

// MemJournal is an in-memory journal, mostly used for testing.
type MemJournal struct {
	EventTypeRegistry

	entries []*Event

	lk     sync.Mutex
	closed bool
}

var _ Journal = (*MemJournal)(nil)

func NewMemoryJournal(disabled DisabledEvents) *MemJournal {
	return &MemJournal{
		EventTypeRegistry: NewEventTypeRegistry(disabled),
	}
}

func (m *MemJournal) RecordEvent(evtType EventType, supplier func() interface{}) {
	if !evtType.Enabled() {
		return
	}

	m.lk.Lock()
	defer m.lk.Unlock()
	if m.closed {
		return
	}

	m.entries = append(m.entries, &Event{
		EventType: evtType,
		Timestamp: build.Clock.Now(),
		Data:      supplier(),
	})
}

// Entries returns a copy of the events recorded so far.
func (m *MemJournal) Entries() []*Event {
	m.lk.Lock()
	defer m.lk.Unlock()

	out := make([]*Event, len(m.entries))
	copy(out, m.entries)
	return out
}

func (m *MemJournal) Close() error {
	m.lk.Lock()
	defer m.lk.Unlock()
	m.closed = true
	return nil
}
