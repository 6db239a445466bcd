package closure

import "time"

// Verdict is the answer of a single strategy.
type Verdict int

const (
	Undecided Verdict = iota
	Open
	Closed
)

func (v Verdict) String() string {
	switch v {
	case Open:
		return "open"
	case Closed:
		return "closed"
	}
	return "undecided"
}

// Query asks about one slot of one date.
type Query struct {
	Date time.Time
	Time string
	// SkipRecurring disables the recurring weekly rule for this lookup.
	SkipRecurring bool
}

// Strategy decides a query from a snapshot or passes it on with Undecided.
type Strategy struct {
	Name   string
	Decide func(s *Snapshot, q Query) Verdict
}

// ExceptionalOpening opens any slot listed on a schedule that opens a day the
// recurring rule keeps closed.
var ExceptionalOpening = Strategy{
	Name: "exceptional_opening",
	Decide: func(s *Snapshot, q Query) Verdict {
		sched := s.Schedule(q.Date)
		if sched.IsExceptionalOpening(s.Rule) && sched.HasSlot(q.Time) {
			return Open
		}
		return Undecided
	},
}

var ShopClosure = Strategy{
	Name: "shop_closure",
	Decide: func(s *Snapshot, q Query) Verdict {
		if s.Shop.Closes(q.Date) {
			return Closed
		}
		return Undecided
	},
}

var DateException = Strategy{
	Name: "date_exception",
	Decide: func(s *Snapshot, q Query) Verdict {
		for _, exc := range s.Exceptions(q.Date) {
			if exc.Type.Covers(q.Time) {
				return Closed
			}
		}
		return Undecided
	},
}

var RecurringRule = Strategy{
	Name: "recurring_rule",
	Decide: func(s *Snapshot, q Query) Verdict {
		if q.SkipRecurring {
			return Undecided
		}
		if s.Rule.Closes(q.Date.Weekday()) {
			return Closed
		}
		return Undecided
	},
}

// DefaultChain is the precedence used by IsClosed: first decisive strategy wins.
var DefaultChain = []Strategy{ExceptionalOpening, ShopClosure, DateException, RecurringRule}

// AvailabilityChain is used when resolving bookable slots. Exceptional
// openings are handled by the caller through Query.SkipRecurring so that
// date-specific closures still apply on such days.
var AvailabilityChain = []Strategy{ShopClosure, DateException, RecurringRule}

// Resolve runs chain in order and returns the first decisive verdict, Open if none.
func Resolve(chain []Strategy, s *Snapshot, q Query) Verdict {
	for _, st := range chain {
		if v := st.Decide(s, q); v != Undecided {
			return v
		}
	}
	return Open
}

// DecidedBy returns the name of the strategy that decided q, or "" when the default applied.
func DecidedBy(chain []Strategy, s *Snapshot, q Query) string {
	for _, st := range chain {
		if st.Decide(s, q) != Undecided {
			return st.Name
		}
	}
	return ""
}
