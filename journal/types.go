package journal

import (
	"strings"
	"time"

	"golang.org/x/xerrors"
)

// DefaultDisabledEvents lists the journal events disabled by default,
// usually because they are considered noisy.
var DefaultDisabledEvents = DisabledEvents{
	{System: "sched", Event: "task_dequeued"},
}

// DisabledEvents is the set of event types whose journaling is suppressed.
type DisabledEvents []EventType

// ParseDisabledEvents parses a comma-separated string of system:event
// names into a DisabledEvents object.
func ParseDisabledEvents(s string) (DisabledEvents, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return DisabledEvents{}, nil
	}
	evts := strings.Split(s, ",")
	ret := make(DisabledEvents, 0, len(evts))
	for _, evt := range evts {
		parts := strings.Split(strings.TrimSpace(evt), ":")
		if len(parts) != 2 {
			return nil, xerrors.Errorf("invalid event type: %s", evt)
		}
		ret = append(ret, EventType{System: parts[0], Event: parts[1]})
	}
	return ret, nil
}

// EventType represents the signature of an event.
type EventType struct {
	System string
	Event  string

	// enabled stores whether this event type is enabled.
	enabled bool

	// safe is set to true if this EventType was constructed correctly,
	// via Journal.RegisterEventType.
	safe bool
}

func (et EventType) String() string {
	return et.System + ":" + et.Event
}

// Enabled returns whether this event type is enabled in the journaling
// subsystem. Callers should check this before constructing an expensive
// payload, as disabled events are discarded.
func (et EventType) Enabled() bool {
	return et.safe && et.enabled
}

// Journal represents an audit trail of system actions.
//
// Instances should be safe for concurrent use.
type Journal interface {
	EventTypeRegistry

	// RecordEvent records this event to the journal, if and only if the
	// EventType is enabled. If so, it calls the supplier function to obtain
	// the payload to record.
	RecordEvent(evtType EventType, supplier func() interface{})

	// Close closes this journal for further writing.
	Close() error
}

// EventTypeRegistry is a component that constructs tracked EventTypes.
type EventTypeRegistry interface {
	// RegisterEventType introduces a new event type to a journal, and
	// returns an EventType token that components can later use to check
	// whether journalling for that type is enabled/suppressed, and to tag
	// journal entries with that type.
	RegisterEventType(system, event string) EventType
}

// Event represents a journal entry.
//
// See godocs on EventType for more info.
type Event struct {
	EventType

	Timestamp time.Time
	Data      interface{}
}
