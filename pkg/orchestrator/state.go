package orchestrator

// State is a step of the round-up workflow. A run moves forward through the
// states in declaration order and ends in StateDone or StateFailed.
type State int

const (
	StateStart State = iota
	StateAccountResolved
	StateCategoryResolved
	StateGoalResolved
	StateTransactionsFetched
	StateAmountComputed
	StateBalanceChecked
	StateTransferred
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateStart:
		return "START"
	case StateAccountResolved:
		return "ACCOUNT_RESOLVED"
	case StateCategoryResolved:
		return "CATEGORY_RESOLVED"
	case StateGoalResolved:
		return "GOAL_RESOLVED"
	case StateTransactionsFetched:
		return "TRANSACTIONS_FETCHED"
	case StateAmountComputed:
		return "AMOUNT_COMPUTED"
	case StateBalanceChecked:
		return "BALANCE_CHECKED"
	case StateTransferred:
		return "TRANSFERRED"
	case StateDone:
		return "DONE"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether no further transition follows s.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}
