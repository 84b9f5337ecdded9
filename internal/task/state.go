package task

type State int

const (
	Idle State = iota
	Executing
	Finished
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Executing:
		return "executing"
	case Finished:
		return "finished"
	default:
		return "unknown"
	}
}

type Transition struct {
	From State
	To   State
}

// ValidTransitions lists every state change a task may make. Finished is
// terminal.
var ValidTransitions = []Transition{
	{From: Idle, To: Executing},
	{From: Idle, To: Finished},
	{From: Executing, To: Finished},
}

func IsValidTransition(from, to State) bool {
	for _, t := range ValidTransitions {
		if t.From == from && t.To == to {
			return true
		}
	}
	return false
}

type Phase int

const (
	WillChange Phase = iota
	DidChange
)

func (p Phase) String() string {
	if p == WillChange {
		return "will_change"
	}
	return "did_change"
}

// Change is delivered to observers twice per transition: once before the
// state is mutated and once after.
type Change struct {
	Phase Phase
	From  State
	To    State
}
