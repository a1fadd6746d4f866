package domain

// EventKind classifies a telemetry report
type EventKind string

const (
	EventTransitionFailed   EventKind = "TRANSITION_FAILED"
	EventStoreWriteFailed   EventKind = "STORE_WRITE_FAILED"
	EventSubscriptionFailed EventKind = "SUBSCRIPTION_FAILED"
	EventCardPoolExhausted  EventKind = "CARD_POOL_EXHAUSTED"
	EventHandSizeMismatch   EventKind = "HAND_SIZE_MISMATCH"
	EventTimerStalled       EventKind = "TIMER_STALLED"
	EventBotFailed          EventKind = "BOT_FAILED"
	EventGameForceEnded     EventKind = "GAME_FORCE_ENDED"
)

// String returns the string representation of the event kind
func (k EventKind) String() string {
	return string(k)
}
