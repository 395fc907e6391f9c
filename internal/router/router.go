// Package router implements the hybrid local/remote Message Router from
// spec.md §4.3, grounded on original_source/src/orchestration/network/
// router.rs for the Location/registry shape and on the teacher's
// internal/nats/client.go for the remote transport leg (substituting NATS
// for the original's Iroh/QUIC stream per DESIGN.md's Open Question
// resolution #5).
package router

import (
	"context"
	"fmt"
	"sync"

	"github.com/mnemosyne/mnemosyne/internal/types"
)

// RouteErrorKind enumerates the RouteError variants named in spec.md §4.3.
type RouteErrorKind string

const (
	MailboxClosed RouteErrorKind = "mailbox_closed"
	Transport     RouteErrorKind = "transport"
	TypeMismatch  RouteErrorKind = "type_mismatch"
)

// RouteError is returned by Route on any delivery failure.
type RouteError struct {
	Kind    RouteErrorKind
	Message string
	Cause   error
}

func (e *RouteError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("route error (%s): %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("route error (%s): %s", e.Kind, e.Message)
}

func (e *RouteError) Unwrap() error { return e.Cause }

// Envelope is a routed message: the message type lets both local and
// remote legs reject a payload addressed to the wrong role (spec.md §4.3:
// "a message type must match the receiving role").
type Envelope struct {
	From    types.Role
	To      types.Role
	Type    string
	Payload []byte
}

// Transport delivers an envelope to a remote node. Implementations MUST
// NOT persist messages (at-most-once only, per spec.md §4.3).
type Transport interface {
	Send(ctx context.Context, nodeID string, env Envelope) error
}

type localMailbox struct {
	expectedType string
	ch           chan Envelope
}

// Router holds the role → location registry and dispatches Route calls to
// either a local mailbox or the remote Transport.
type Router struct {
	mu        sync.RWMutex
	locals    map[types.Role]*localMailbox
	remotes   map[types.Role]string // role -> node id
	transport Transport
}

// New creates a Router. transport may be nil if this instance never routes
// to remote nodes.
func New(transport Transport) *Router {
	return &Router{
		locals:    make(map[types.Role]*localMailbox),
		remotes:   make(map[types.Role]string),
		transport: transport,
	}
}

// RegisterLocal registers role as locally addressable, creating its
// mailbox with the given buffer capacity and declaring the single message
// type it accepts. It returns the receive end for the role's actor
// goroutine to consume.
func (r *Router) RegisterLocal(role types.Role, expectedType string, capacity int) <-chan Envelope {
	if capacity <= 0 {
		capacity = 32
	}
	mb := &localMailbox{expectedType: expectedType, ch: make(chan Envelope, capacity)}

	r.mu.Lock()
	r.locals[role] = mb
	delete(r.remotes, role)
	r.mu.Unlock()

	return mb.ch
}

// RegisterRemote records that role is reachable on a remote node.
func (r *Router) RegisterRemote(role types.Role, nodeID string) {
	r.mu.Lock()
	r.remotes[role] = nodeID
	delete(r.locals, role)
	r.mu.Unlock()
}

// Unregister removes role from the registry entirely.
func (r *Router) Unregister(role types.Role) {
	r.mu.Lock()
	delete(r.locals, role)
	delete(r.remotes, role)
	r.mu.Unlock()
}

// Route delivers msg to toRole, choosing the local or remote leg from the
// registry. It never blocks the caller: local delivery is a non-blocking
// channel send, remote delivery is bounded by ctx.
func (r *Router) Route(ctx context.Context, toRole types.Role, env Envelope) error {
	r.mu.RLock()
	local, isLocal := r.locals[toRole]
	nodeID, isRemote := r.remotes[toRole]
	r.mu.RUnlock()

	switch {
	case isLocal:
		if local.expectedType != "" && env.Type != local.expectedType {
			return &RouteError{Kind: TypeMismatch, Message: fmt.Sprintf("role %s expects message type %q, got %q", toRole, local.expectedType, env.Type)}
		}
		select {
		case local.ch <- env:
			return nil
		default:
			return &RouteError{Kind: MailboxClosed, Message: fmt.Sprintf("mailbox for role %s is full or closed", toRole)}
		}

	case isRemote:
		if r.transport == nil {
			return &RouteError{Kind: Transport, Message: "no transport configured for remote routing"}
		}
		if err := r.transport.Send(ctx, nodeID, env); err != nil {
			return &RouteError{Kind: Transport, Message: fmt.Sprintf("failed to deliver to node %s", nodeID), Cause: err}
		}
		return nil

	default:
		return &RouteError{Kind: MailboxClosed, Message: fmt.Sprintf("role %s is not registered", toRole)}
	}
}
