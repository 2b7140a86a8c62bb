package app

// WarningReason classifies a recoverable problem. The set is closed so that
// it can be used as a metric label.
type WarningReason string

const (
	WarnDuplicateEvent WarningReason = "duplicate_event"
	WarnCannotConsume  WarningReason = "cannot_consume"
	WarnOrphanFlow     WarningReason = "orphan_flow"
	WarnDepartedPeer   WarningReason = "departed_peer"
	WarnStaleHandshake WarningReason = "stale_handshake"
	WarnHandshakeRetry WarningReason = "handshake_retry"
	WarnSignalError    WarningReason = "signal_error"
	WarnSlowSubscriber WarningReason = "slow_subscriber"
	WarnBadMessage     WarningReason = "bad_message"
	WarnUnknownFlow    WarningReason = "unknown_flow"
)

// WarningReasons lists every reason, in a stable order.
var WarningReasons = []WarningReason{
	WarnDuplicateEvent,
	WarnCannotConsume,
	WarnOrphanFlow,
	WarnDepartedPeer,
	WarnStaleHandshake,
	WarnHandshakeRetry,
	WarnSignalError,
	WarnSlowSubscriber,
	WarnBadMessage,
	WarnUnknownFlow,
}
