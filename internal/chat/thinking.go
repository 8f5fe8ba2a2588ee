package chat

// ThinkingStep is one transient progress entry shown while the counselor
// works on a response. Steps are never persisted; the list is cleared at the
// start of every send and again when the response finishes.
type ThinkingStep struct {
	Step      string
	Timestamp string
	Completed bool
}

// thinkingList holds the steps for the in-flight turn. Not safe for
// concurrent use; the controller guards it with its own mutex.
type thinkingList struct {
	steps []ThinkingStep
}

func (l *thinkingList) append(step, timestamp string) {
	l.steps = append(l.steps, ThinkingStep{Step: step, Timestamp: timestamp})
}

// markLastCompleted flips the most recently appended step. Completion
// signals carry no step reference, so the tie-break is always positional.
func (l *thinkingList) markLastCompleted() {
	if len(l.steps) == 0 {
		return
	}
	l.steps[len(l.steps)-1].Completed = true
}

func (l *thinkingList) clear() {
	l.steps = nil
}

func (l *thinkingList) snapshot() []ThinkingStep {
	if len(l.steps) == 0 {
		return nil
	}
	out := make([]ThinkingStep, len(l.steps))
	copy(out, l.steps)
	return out
}
