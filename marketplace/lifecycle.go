package marketplace

// =============================================================================
// LEAD STATUS - Forward-only state machine
// =============================================================================
//
//   open   ──► full | quoted | accepted | cancelled | expired
//   full   ──► quoted | accepted | cancelled | expired
//   quoted ──► accepted | cancelled | expired
//
// quoted is written by the external quoting flow; from the core's point of
// view it behaves like full (not claimable, still cancellable/expirable).
// accepted, cancelled and expired are terminal.

type Status string

const (
	StatusOpen      Status = "open"
	StatusFull      Status = "full"
	StatusQuoted    Status = "quoted"
	StatusAccepted  Status = "accepted"
	StatusExpired   Status = "expired"
	StatusCancelled Status = "cancelled"
)

var transitions = map[Status][]Status{
	StatusOpen:   {StatusFull, StatusQuoted, StatusAccepted, StatusCancelled, StatusExpired},
	StatusFull:   {StatusQuoted, StatusAccepted, StatusCancelled, StatusExpired},
	StatusQuoted: {StatusAccepted, StatusCancelled, StatusExpired},
}

// ExpirableStatuses are the statuses the sweeper moves to expired.
var ExpirableStatuses = []Status{StatusOpen, StatusFull, StatusQuoted}

// CanTransition reports whether from → to is a legal lifecycle step.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func (s Status) Terminal() bool {
	return s == StatusAccepted || s == StatusExpired || s == StatusCancelled
}

// Claimable reports whether claims may be attempted in this status.
// A full lead is claimable in status terms; capacity rejects it.
func (s Status) Claimable() bool {
	return s == StatusOpen || s == StatusFull
}

func (s Status) Expirable() bool {
	for _, e := range ExpirableStatuses {
		if s == e {
			return true
		}
	}
	return false
}

func (s Status) Valid() bool {
	switch s {
	case StatusOpen, StatusFull, StatusQuoted, StatusAccepted, StatusExpired, StatusCancelled:
		return true
	}
	return false
}
