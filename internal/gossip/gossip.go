// Package gossip implements the per-connection gossip protocol handler:
// a small state machine tracking one connection's handshake and keep-alive
// state, independent of the transport that drives it.
package gossip

import (
	"fmt"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p/core/protocol"
)

// Origin records which side of a connection dialed the other. It is always
// supplied explicitly by the caller constructing a Handler — libp2p's own
// connection-established notification already carries the direction, so no
// package-level mutable flag is needed to thread it through.
type Origin int

const (
	OriginInbound Origin = iota
	OriginOutbound
)

func (o Origin) String() string {
	if o == OriginOutbound {
		return "outbound"
	}
	return "inbound"
}

// State is one node in the per-connection handshake state machine.
type State int

const (
	StateNew State = iota
	StateAwaitingRequest
	StateSendingRequest
	StateNegotiating
	StateEstablished
	StateClosing
	StateTerminal
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateAwaitingRequest:
		return "awaiting_request"
	case StateSendingRequest:
		return "sending_request"
	case StateNegotiating:
		return "negotiating"
	case StateEstablished:
		return "established"
	case StateClosing:
		return "closing"
	case StateTerminal:
		return "terminal"
	default:
		return "unknown"
	}
}

// Event is one of the three things a Handler transition can emit for its
// caller (internal/swarm) to act on.
type Event interface{ isEvent() }

// UpgradeCompleted fires when a substream negotiates successfully in either
// direction.
type UpgradeCompleted struct{}

// UpgradeError fires on any negotiation failure, from any state.
type UpgradeError struct{ Err error }

// ConnectionDropped fires when an Established connection's remote side
// disconnects or a send fails.
type ConnectionDropped struct{}

func (UpgradeCompleted) isEvent()  {}
func (UpgradeError) isEvent()      {}
func (ConnectionDropped) isEvent() {}

// KeepAliveGrace is the minimum time after establishment a connection is
// kept alive regardless of traffic; after this window idleness is judged by
// IdleTimeout using the connection's own activity.
const KeepAliveGrace = 30 * time.Second

// ErrUnexpectedTransition reports a transition attempted from a state the
// event does not apply to.
type ErrUnexpectedTransition struct {
	State State
	Event string
}

func (e *ErrUnexpectedTransition) Error() string {
	return fmt.Sprintf("gossip: %s is not valid in state %s", e.Event, e.State)
}

// Handler is a per-connection instance of the gossip protocol handshake
// state machine.
type Handler struct {
	mu           sync.Mutex
	origin       Origin
	state        State
	lastActivity time.Time
}

// NewHandler constructs a Handler for one connection. origin must reflect
// which side dialed, supplied by the caller at construction time.
func NewHandler(origin Origin) *Handler {
	return &Handler{origin: origin, state: StateNew}
}

func (h *Handler) Origin() Origin {
	return h.origin
}

func (h *Handler) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// ConnectionEstablished runs the New->{AwaitingRequest,SendingRequest}
// transition. It reports whether the caller should issue an outbound
// substream request (true only for OriginOutbound).
func (h *Handler) ConnectionEstablished(now time.Time) (issueRequest bool, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != StateNew {
		return false, &ErrUnexpectedTransition{State: h.state, Event: "connection established"}
	}
	h.lastActivity = now
	if h.origin == OriginOutbound {
		h.state = StateSendingRequest
		return true, nil
	}
	h.state = StateAwaitingRequest
	return false, nil
}

// SubstreamNegotiated runs the {SendingRequest,AwaitingRequest}->Established
// transition and emits UpgradeCompleted.
func (h *Handler) SubstreamNegotiated(now time.Time) (Event, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	switch h.state {
	case StateSendingRequest, StateAwaitingRequest:
		h.state = StateEstablished
		h.lastActivity = now
		return UpgradeCompleted{}, nil
	default:
		return nil, &ErrUnexpectedTransition{State: h.state, Event: "substream negotiated"}
	}
}

// UpgradeFailed runs the any->Terminal transition and emits UpgradeError.
// Unlike the other transitions it never rejects the caller: an upgrade can
// fail from any state.
func (h *Handler) UpgradeFailed(cause error) Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.state = StateTerminal
	return UpgradeError{Err: cause}
}

// RemoteClosed runs the Established->Closing transition on remote EOF or a
// send error, emitting ConnectionDropped. ok is false if the handler was
// not Established, in which case no transition occurred.
func (h *Handler) RemoteClosed() (ev Event, ok bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != StateEstablished {
		return nil, false
	}
	h.state = StateClosing
	return ConnectionDropped{}, true
}

// Touch records traffic on the connection, resetting the idle clock used by
// IdleTimeout.
func (h *Handler) Touch(now time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastActivity = now
}

// IdleTimeout reports whether an Established connection has gone silent for
// longer than KeepAliveGrace and should be considered for pruning.
func (h *Handler) IdleTimeout(now time.Time) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state == StateEstablished && now.Sub(h.lastActivity) > KeepAliveGrace
}

// ProtocolID returns this network's gossip protocol identifier, namespaced
// by network id so only peers configured with the same network id negotiate
// with each other.
func ProtocolID(networkId uint64) protocol.ID {
	return protocol.ID(fmt.Sprintf("/tnode-gossip/%d/1.0.0", networkId))
}
