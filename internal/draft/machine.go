package draft

import "fmt"

// State is the lifecycle position of one editing session.
type State int

const (
	StateUnloaded State = iota
	StateLoading
	StateEditing
	StateSaving
	StateFinalized
)

func (s State) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StateLoading:
		return "loading"
	case StateEditing:
		return "editing"
	case StateSaving:
		return "saving"
	case StateFinalized:
		return "finalized"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

type event int

const (
	eventLoadStart event = iota
	eventLoadDone
	eventLoadFailed
	eventSaveStart
	eventSaveDone
	eventFinalizeDone
)

func (e event) String() string {
	switch e {
	case eventLoadStart:
		return "load-start"
	case eventLoadDone:
		return "load-done"
	case eventLoadFailed:
		return "load-failed"
	case eventSaveStart:
		return "save-start"
	case eventSaveDone:
		return "save-done"
	case eventFinalizeDone:
		return "finalize-done"
	default:
		return fmt.Sprintf("event(%d)", int(e))
	}
}

// transition is the pure state table for the session lifecycle:
//
//	unloaded -> loading -> editing <-> saving
//	                       editing/saving -> finalized (terminal)
//
// A failed load returns to unloaded so the page can retry. Finalized accepts
// no further events.
func transition(from State, ev event) (State, error) {
	switch from {
	case StateUnloaded:
		if ev == eventLoadStart {
			return StateLoading, nil
		}
	case StateLoading:
		switch ev {
		case eventLoadDone:
			return StateEditing, nil
		case eventLoadFailed:
			return StateUnloaded, nil
		}
	case StateEditing:
		switch ev {
		case eventSaveStart:
			return StateSaving, nil
		case eventFinalizeDone:
			return StateFinalized, nil
		}
	case StateSaving:
		switch ev {
		case eventSaveDone:
			return StateEditing, nil
		case eventFinalizeDone:
			return StateFinalized, nil
		}
	}
	return from, fmt.Errorf("invalid transition: %s on %s", ev, from)
}
