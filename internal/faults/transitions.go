package faults

// rank orders the main path of the lifecycle. closed sits past resolved so that every legal
// transition increases the rank.
var rank = map[Status]int{
	StatusOpen:       0,
	StatusAssigned:   1,
	StatusInProgress: 2,
	StatusResolved:   3,
	StatusClosed:     4,
}

var transitions = map[Status][]Status{
	StatusOpen:       {StatusAssigned, StatusClosed},
	StatusAssigned:   {StatusInProgress, StatusResolved},
	StatusInProgress: {StatusResolved, StatusClosed},
	StatusResolved:   {StatusClosed},
	StatusClosed:     nil,
}

// Rank returns the position of s in the lifecycle, -1 for unknown statuses.
func (s Status) Rank() int {
	r, ok := rank[s]
	if !ok {
		return -1
	}
	return r
}

func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// CheckTransition returns a Conflict error when from -> to is not a legal move.
func CheckTransition(from, to Status) error {
	if !from.Valid() || !to.Valid() {
		return Validationf("unknown status transition %q -> %q", from, to)
	}
	if !CanTransition(from, to) {
		return Conflictf("cannot move request from %s to %s", from, to)
	}
	return nil
}
