package vm

// EventID identifies one entry of the event/interrupt subsystem: both
// the handler table and the event queue are keyed by this byte.
type EventID byte

const (
	EventTerminate    EventID = 0x00
	EventSegfault     EventID = 0x01
	EventUnknownError EventID = 0x02
	EventInput        EventID = 0x03
	EventOutput       EventID = 0x04
	EventClock        EventID = 0x05
)

var eventNames = map[EventID]string{
	EventTerminate:    "TERMINATE",
	EventSegfault:     "SEGFAULT",
	EventUnknownError: "UNKNOWN_ERROR",
	EventInput:        "INPUT",
	EventOutput:       "OUTPUT",
	EventClock:        "CLOCK",
}

func (e EventID) String() string {
	if name, ok := eventNames[e]; ok {
		return name
	}
	return "UNKNOWN_EVENT"
}

// IsCritical reports whether e bypasses the queue and is dispatched
// synchronously the moment it is raised.
func (e EventID) IsCritical() bool {
	switch e {
	case EventTerminate, EventSegfault, EventUnknownError:
		return true
	default:
		return false
	}
}
