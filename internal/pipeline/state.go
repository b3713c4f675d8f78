package pipeline

import "fmt"

// State is a run's position in the pipeline.
type State int

const (
	Idle State = iota
	Reading
	Splitting
	Synthesizing
	Assembling
	CleaningUp
	Done
	Errored
)

var stateNames = [...]string{
	Idle:         "idle",
	Reading:      "reading",
	Splitting:    "splitting",
	Synthesizing: "synthesizing",
	Assembling:   "assembling",
	CleaningUp:   "cleaning-up",
	Done:         "done",
	Errored:      "errored",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool { return s == Done || s == Errored }

var transitions = map[State][]State{
	Idle:         {Reading, Errored},
	Reading:      {Splitting, Errored},
	Splitting:    {Synthesizing, Errored},
	Synthesizing: {Assembling, CleaningUp, Errored},
	Assembling:   {CleaningUp, Errored},
	CleaningUp:   {Done, Errored},
}

// CanTransition reports whether the table allows from -> to.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// machine tracks one run's state and announces every change.
type machine struct {
	state State
	emit  func(Event)
}

func (m *machine) to(next State) {
	if !CanTransition(m.state, next) {
		panic(fmt.Sprintf("pipeline: illegal transition %s -> %s", m.state, next))
	}
	m.state = next
	m.emit(Event{Kind: EventStage, State: next})
}
