package router

import (
	"context"
	"encoding/json"
	"fmt"

	nc "github.com/nats-io/nats.go"

	"github.com/mnemosyne/mnemosyne/internal/types"
)

func roleFromWire(s string) types.Role { return types.Role(s) }

// remoteSubject is the subject pattern a node's NATS connection listens on
// for routed envelopes addressed to one of its locally-hosted roles,
// grounded on the teacher's agent.%s.command subject convention
// (internal/nats/messages.go).
const remoteSubject = "mnemosyne.router.%s.%s" // node id, role

// wireEnvelope is Envelope's JSON wire form; NATS itself provides the
// length-prefixed framing spec.md §4.3 asks for, so no framing is added
// here beyond what the nats.go client already does.
type wireEnvelope struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Type    string `json:"type"`
	Payload []byte `json:"payload"`
}

// NATSTransport implements Transport over a *nats.Conn, substituting for
// the original's Iroh/QUIC stream (DESIGN.md Open Question resolution #5).
// NATS's publish is inherently fire-and-forget and unpersisted, matching
// spec.md §4.3's at-most-once requirement without extra bookkeeping.
type NATSTransport struct {
	conn *nc.Conn
}

// NewNATSTransport wraps an established NATS connection.
func NewNATSTransport(conn *nc.Conn) *NATSTransport {
	return &NATSTransport{conn: conn}
}

// Send publishes env to the subject owned by (nodeID, env.To).
func (t *NATSTransport) Send(ctx context.Context, nodeID string, env Envelope) error {
	wire := wireEnvelope{From: string(env.From), To: string(env.To), Type: env.Type, Payload: env.Payload}
	data, err := json.Marshal(wire)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	subject := fmt.Sprintf(remoteSubject, nodeID, env.To)
	if err := t.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}
	return nil
}

// Listen subscribes on behalf of the locally-hosted role named by
// localRole, delivering decoded envelopes to handler. It is used by a node
// to receive routed messages addressed to one of its own roles.
func (t *NATSTransport) Listen(nodeID string, localRole string, handler func(Envelope)) (*nc.Subscription, error) {
	subject := fmt.Sprintf(remoteSubject, nodeID, localRole)
	sub, err := t.conn.Subscribe(subject, func(msg *nc.Msg) {
		var wire wireEnvelope
		if err := json.Unmarshal(msg.Data, &wire); err != nil {
			return
		}
		handler(Envelope{
			From:    roleFromWire(wire.From),
			To:      roleFromWire(wire.To),
			Type:    wire.Type,
			Payload: wire.Payload,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}
	return sub, nil
}
