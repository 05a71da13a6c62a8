// Package metrics provides per-session counters for the bridge.
//
// The Collector accumulates counters for one bridge session. It is a leaf
// package with no internal dependencies: actions are recorded by name so the
// types package stays out of the import graph.
package metrics

import "sync"

// Snapshot is an immutable point-in-time view of all session metrics.
// Returned by Collector.Snapshot(). Safe to read concurrently after creation.
type Snapshot struct {
	// Correlator
	RequestsSent      int64            `json:"requests_sent"`
	RequestsByAction  map[string]int64 `json:"requests_by_action"`
	ResponsesReceived int64            `json:"responses_received"`
	Timeouts          int64            `json:"timeouts"`
	OrphanedResponses int64            `json:"orphaned_responses"`
	ProtocolErrors    int64            `json:"protocol_errors"`
	RemoteErrors      int64            `json:"remote_errors"`

	// Lifetime
	FreesSent    int64 `json:"frees_sent"`
	FreesSkipped int64 `json:"frees_skipped"`

	// Events
	SubscriptionsStarted int64 `json:"subscriptions_started"`
	SubscriptionsStopped int64 `json:"subscriptions_stopped"`
	EventsDispatched     int64 `json:"events_dispatched"`
	EventsDropped        int64 `json:"events_dropped"`

	// Channel
	IPCDecodeErrors int64 `json:"ipc_decode_errors"`

	// Dimensions (informational, set at construction)
	SessionID string `json:"session_id"`
	Remote    string `json:"remote"`
	Codec     string `json:"codec"`
}

// Collector accumulates metrics during a single session.
// Thread-safe via sync.Mutex. All increment methods are nil-receiver safe.
type Collector struct {
	mu sync.Mutex

	requestsSent      int64
	requestsByAction  map[string]int64
	responsesReceived int64
	timeouts          int64
	orphanedResponses int64
	protocolErrors    int64
	remoteErrors      int64

	freesSent    int64
	freesSkipped int64

	subscriptionsStarted int64
	subscriptionsStopped int64
	eventsDispatched     int64
	eventsDropped        int64

	ipcDecodeErrors int64

	sessionID string
	remote    string
	codec     string
}

// NewCollector creates a Collector with dimension labels.
func NewCollector(sessionID, remote, codec string) *Collector {
	return &Collector{
		requestsByAction: make(map[string]int64),
		sessionID:        sessionID,
		remote:           remote,
		codec:            codec,
	}
}

// --- Correlator ---

// IncRequestSent records an outbound request for action.
// One-way control messages count here too.
func (c *Collector) IncRequestSent(action string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.requestsSent++
	c.requestsByAction[action]++
	c.mu.Unlock()
}

// IncResponseReceived records a response matched to a pending request.
func (c *Collector) IncResponseReceived() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.responsesReceived++
	c.mu.Unlock()
}

// IncTimeout records a request that exceeded its deadline.
func (c *Collector) IncTimeout() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.timeouts++
	c.mu.Unlock()
}

// IncOrphanedResponse records a late response for a request that already
// timed out, or a reply to a one-way message.
func (c *Collector) IncOrphanedResponse() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.orphanedResponses++
	c.mu.Unlock()
}

// IncProtocolError records a protocol integrity fault.
func (c *Collector) IncProtocolError() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.protocolErrors++
	c.mu.Unlock()
}

// IncRemoteError records a response carrying a remote exception.
func (c *Collector) IncRemoteError() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.remoteErrors++
	c.mu.Unlock()
}

// --- Lifetime ---

// IncFreeSent records a release notification sent to the remote.
func (c *Collector) IncFreeSent() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.freesSent++
	c.mu.Unlock()
}

// IncFreeSkipped records a release skipped because the channel was down.
func (c *Collector) IncFreeSkipped() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.freesSkipped++
	c.mu.Unlock()
}

// --- Events ---

// IncSubscriptionStarted records a startEventPolling instruction.
func (c *Collector) IncSubscriptionStarted() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.subscriptionsStarted++
	c.mu.Unlock()
}

// IncSubscriptionStopped records a stopEventPolling instruction.
func (c *Collector) IncSubscriptionStopped() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.subscriptionsStopped++
	c.mu.Unlock()
}

// IncEventDispatched records an event delivered to a local handler.
func (c *Collector) IncEventDispatched() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.eventsDispatched++
	c.mu.Unlock()
}

// IncEventDropped records an event for an unknown polling id, or one whose
// arguments could not be materialized.
func (c *Collector) IncEventDropped() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.eventsDropped++
	c.mu.Unlock()
}

// --- Channel ---

// IncIPCDecodeErrors records an IPC frame decode error.
func (c *Collector) IncIPCDecodeErrors() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.ipcDecodeErrors++
	c.mu.Unlock()
}

// --- Snapshot ---

// Snapshot returns an immutable point-in-time view of all metrics.
// The returned Snapshot is safe to read concurrently; the Collector can
// continue to be mutated independently.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	byAction := make(map[string]int64, len(c.requestsByAction))
	for k, v := range c.requestsByAction {
		byAction[k] = v
	}

	return Snapshot{
		RequestsSent:      c.requestsSent,
		RequestsByAction:  byAction,
		ResponsesReceived: c.responsesReceived,
		Timeouts:          c.timeouts,
		OrphanedResponses: c.orphanedResponses,
		ProtocolErrors:    c.protocolErrors,
		RemoteErrors:      c.remoteErrors,

		FreesSent:    c.freesSent,
		FreesSkipped: c.freesSkipped,

		SubscriptionsStarted: c.subscriptionsStarted,
		SubscriptionsStopped: c.subscriptionsStopped,
		EventsDispatched:     c.eventsDispatched,
		EventsDropped:        c.eventsDropped,

		IPCDecodeErrors: c.ipcDecodeErrors,

		SessionID: c.sessionID,
		Remote:    c.remote,
		Codec:     c.codec,
	}
}
