package ledger

// transitions lists the edges reachable through Service.Transition.
// failed -> pending exists only through Service.Retry, and completed -> cancelled only
// through Service.SoftDelete for categories outside the compliance hold.
var transitions = map[Status][]Status{
	StatusPending: {StatusCompleted, StatusFailed, StatusCancelled},
	StatusFailed:  {StatusCancelled},
}

// CanTransition reports whether from -> to is a legal direct transition.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// checkTransition validates an edge and its reason requirement.
func checkTransition(from, to Status, reason string) error {
	if !to.Valid() || !CanTransition(from, to) {
		return &InvalidTransitionError{From: from, To: to}
	}
	if to == StatusCancelled && reason == "" {
		return ErrReasonRequired
	}
	return nil
}

// checkSoftDelete validates the delete path, which always ends in cancelled.
func checkSoftDelete(t Transaction, reason string) error {
	if t.Status == StatusCompleted && t.Category.UnderComplianceHold() {
		return ErrComplianceHold
	}
	if t.Status == StatusCancelled {
		return &InvalidTransitionError{From: t.Status, To: StatusCancelled}
	}
	if reason == "" {
		return ErrReasonRequired
	}
	return nil
}

// initialStatus validates the status a record may be created in.
func initialStatus(s Status) (Status, bool) {
	switch s {
	case "":
		return StatusPending, true
	case StatusPending, StatusCompleted, StatusFailed:
		return s, true
	default:
		return "", false
	}
}
