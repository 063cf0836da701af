package evaluation

// State is a step of the evaluation state machine.
type State int

const (
	StateStart State = iota
	StateNormalize
	StateCacheCheck
	StatePhoneme
	StateModel
	StateScore
	StateAssemble
	StateFeedback
	StateDone
	StateAborted
)

var stateNames = [...]string{
	StateStart:      "start",
	StateNormalize:  "normalize",
	StateCacheCheck: "cache_check",
	StatePhoneme:    "phoneme",
	StateModel:      "model",
	StateScore:      "score",
	StateAssemble:   "assemble",
	StateFeedback:   "feedback",
	StateDone:       "done",
	StateAborted:    "aborted",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}

	return stateNames[s]
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return s == StateDone || s == StateAborted
}

// allowed lists the legal successors of each non-terminal state. Any state
// may also move to StateAborted.
var allowed = map[State][]State{
	StateStart:      {StateNormalize},
	StateNormalize:  {StateCacheCheck},
	StateCacheCheck: {StatePhoneme, StateScore},
	StatePhoneme:    {StateModel},
	StateModel:      {StateScore},
	StateScore:      {StateAssemble},
	StateAssemble:   {StateFeedback, StateDone},
	StateFeedback:   {StateDone},
}

// CanTransition reports whether from -> to is a legal move.
func CanTransition(from, to State) bool {
	if from.Terminal() {
		return false
	}

	if to == StateAborted {
		return true
	}

	for _, next := range allowed[from] {
		if next == to {
			return true
		}
	}

	return false
}
