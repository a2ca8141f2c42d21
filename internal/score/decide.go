package score

// Action is what the orchestrator should do with a ranking.
type Action int

const (
	// ActNone means nothing cleared the threshold and nothing is pending.
	ActNone Action = iota
	// ActClick means Decision.Target should be clicked.
	ActClick
	// ActWait means an element is counting down; rescan later.
	ActWait
)

func (a Action) String() string {
	switch a {
	case ActClick:
		return "click"
	case ActWait:
		return "wait"
	default:
		return "none"
	}
}

// Decision is the outcome of Decide.
type Decision struct {
	Action  Action
	Target  Scored // set for ActClick
	Waiting Scored // set for ActWait
}

// Decide picks an action from a ranking produced by Score. The best scored
// candidate is clicked when it clears threshold, unless an element in the
// same context is still counting down: the countdown usually replaces the
// button it sits next to.
func Decide(ranked []Scored, threshold float64) Decision {
	var (
		best    *Scored
		waiting []Scored
	)
	for i := range ranked {
		r := ranked[i]
		switch r.Kind {
		case KindScored:
			if best == nil {
				best = &ranked[i]
			}
		case KindWaiting:
			waiting = append(waiting, r)
		}
	}

	if best != nil && best.Score >= threshold {
		for _, w := range waiting {
			if w.ContextID == best.ContextID {
				return Decision{Action: ActWait, Waiting: w}
			}
		}
		return Decision{Action: ActClick, Target: *best}
	}
	if len(waiting) > 0 {
		return Decision{Action: ActWait, Waiting: waiting[0]}
	}
	return Decision{Action: ActNone}
}
