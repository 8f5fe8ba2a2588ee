package chat

import "kounsel/internal/api"

// Callbacks defines observer hooks for controller events.
// All callbacks are optional; nil callbacks are ignored. Callbacks for a
// single controller are invoked sequentially, never concurrently, and must
// not call back into the controller.
type Callbacks struct {
	// OnState is called when the controller changes state.
	OnState func(state State)

	// OnTranscript is called with a snapshot of the full transcript
	// whenever it changes, including per-chunk updates while streaming.
	OnTranscript func(messages []api.Message)

	// OnThinking is called with a snapshot of the thinking steps for the
	// in-flight turn whenever the list changes.
	OnThinking func(steps []ThinkingStep)

	// OnSessionID is called when the active session id changes: a
	// placeholder is adopted as durable, the server asserts a new id,
	// or the user switches sessions. Hosts use it to update whatever
	// navigable session reference they expose.
	OnSessionID func(sessionID string)

	// OnError is called with a human-readable message when a send or
	// stream fails. Cancellation never produces an error callback.
	OnError func(message string)

	// OnRefresh is called after any operation that changes session
	// metadata, signaling that the session list should be re-fetched.
	OnRefresh func()
}

func (cb Callbacks) state(s State) {
	if cb.OnState != nil {
		cb.OnState(s)
	}
}

func (cb Callbacks) transcript(messages []api.Message) {
	if cb.OnTranscript != nil {
		cb.OnTranscript(messages)
	}
}

func (cb Callbacks) thinking(steps []ThinkingStep) {
	if cb.OnThinking != nil {
		cb.OnThinking(steps)
	}
}

func (cb Callbacks) sessionID(id string) {
	if cb.OnSessionID != nil {
		cb.OnSessionID(id)
	}
}

func (cb Callbacks) error(message string) {
	if cb.OnError != nil {
		cb.OnError(message)
	}
}

func (cb Callbacks) refresh() {
	if cb.OnRefresh != nil {
		cb.OnRefresh()
	}
}
