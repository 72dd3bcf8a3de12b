package upstream

// NativeFrame is one raw payload read off the venue's websocket, handed to
// the adapter for translation into canonical events.
type NativeFrame struct {
	Data []byte
}

// ConnectionEvent reports a session lifecycle transition to the adapter.
type ConnectionEvent struct {
	Kind ConnectionEventKind
	Err  error
	// Subscriptions is populated on Resynced: the set of channels the
	// session just re-issued a subscribe for, in case the adapter needs to
	// reconcile its own bookkeeping after a reconnect.
	Subscriptions []string
}

type ConnectionEventKind string

const (
	EventConnected ConnectionEventKind = "connected"
	// EventResynced fires after a reconnect re-issues every active
	// subscription, before any new frame reaches consumers — the session
	// guarantees this ordering per its reconnect policy.
	EventResynced ConnectionEventKind = "resynced"
	EventFailed   ConnectionEventKind = "failed"
	EventClosed   ConnectionEventKind = "closed"
)

// Item is the union events() produces: exactly one of Frame/Event is set.
type Item struct {
	Frame *NativeFrame
	Event *ConnectionEvent
}
