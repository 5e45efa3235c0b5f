// Package ring implements the typed request passing along the deterministic
// ring Coordinator → p₁ → … → p_n → Coordinator. Messages are length-prefixed
// JSON frames over TCP; delivery per edge is reliable and ordered, dialing
// retries with a bounded backoff budget, and receivers drop duplicate
// sequence numbers so a resend after a half-failed send stays idempotent.
package ring

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/shardsafe/kanon-engine/internal/hierarchy"
	"github.com/shardsafe/kanon-engine/pkg/models"
)

// Kind discriminates the three ring message types.
type Kind string

const (
	// Information opens a request: criteria, attribute trees, the
	// coordinator's public key, the roster and the initial pending node ids.
	Information Kind = "INFORMATION"
	// Instruction announces the chosen refinement plus the pending node ids
	// for the round it starts.
	Instruction Kind = "INSTRUCTION"
	// End carries the growing sealed-row list of the secure set union.
	End Kind = "END"
)

// Message is one typed ring frame. Fields are populated per kind; see the
// constructors on the coordinator for the exact shapes.
type Message struct {
	Kind      Kind   `json:"kind"`
	RequestID string `json:"request_id"`
	Seq       int    `json:"seq"`

	// INFORMATION
	K              int                      `json:"k,omitempty"`
	Criteria       []models.Criterion       `json:"criteria,omitempty"`
	AttributeTrees hierarchy.AttributeTrees `json:"attribute_trees,omitempty"`
	PublicKey      []byte                   `json:"public_key,omitempty"`
	Parties        []models.Party           `json:"parties,omitempty"`

	// INFORMATION and INSTRUCTION
	PendingIDs []string `json:"pending_ids,omitempty"`

	// INSTRUCTION
	BestAttr  int    `json:"best_attr"`
	BestLabel string `json:"best_label,omitempty"`

	// END
	Ciphertexts [][]byte `json:"ciphertexts,omitempty"`
}

// Validate rejects frames that cannot belong to the protocol.
func (m *Message) Validate() error {
	switch m.Kind {
	case Information, Instruction, End:
		return nil
	}
	return fmt.Errorf("unknown ring request type %q", m.Kind)
}

// DialTimeout bounds one connection attempt; MaxDialRetries bounds the
// retry-on-refused budget before the request aborts.
const (
	DialTimeout    = 5 * time.Second
	MaxDialRetries = 60
)

// Send delivers one message to a party's ring port. The next hop is expected
// to come online eventually; connection refusals are retried with exponential
// backoff until the budget is exhausted.
func Send(ctx context.Context, to models.Party, msg *Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding %s message: %v", msg.Kind, err)
	}

	op := func() error {
		dialer := net.Dialer{Timeout: DialTimeout}
		conn, err := dialer.DialContext(ctx, "tcp", to.RingAddr())
		if err != nil {
			return err
		}
		defer conn.Close()
		if err := WriteFrame(conn, payload); err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), MaxDialRetries), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		return fmt.Errorf("sending %s to party %d (%s): %v", msg.Kind, to.ID, to.RingAddr(), err)
	}
	return nil
}

// Receiver accepts ring frames on a party's ring port for the lifetime of
// one request.
type Receiver struct {
	ln      net.Listener
	lastSeq int
}

// Listen binds the ring port. Call Close when the request completes.
func Listen(addr string) (*Receiver, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("binding ring port %s: %v", addr, err)
	}
	return &Receiver{ln: ln, lastSeq: -1}, nil
}

// Receive blocks for the next message from the ring predecessor. Duplicate
// frames (a resend of an already processed sequence number) are skipped.
func (r *Receiver) Receive(ctx context.Context) (*Message, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if deadline, ok := ctx.Deadline(); ok {
			if tcp, isTCP := r.ln.(*net.TCPListener); isTCP {
				_ = tcp.SetDeadline(deadline)
			}
		}

		conn, err := r.ln.Accept()
		if err != nil {
			return nil, fmt.Errorf("accepting ring connection: %v", err)
		}
		payload, err := ReadFrame(conn)
		conn.Close()
		if err != nil {
			return nil, err
		}

		var msg Message
		if err := json.Unmarshal(payload, &msg); err != nil {
			return nil, fmt.Errorf("decoding ring message: %v", err)
		}
		if err := msg.Validate(); err != nil {
			return nil, err
		}
		if msg.Seq <= r.lastSeq {
			continue // duplicate resend, already handled
		}
		r.lastSeq = msg.Seq
		return &msg, nil
	}
}

// Addr returns the bound listen address.
func (r *Receiver) Addr() string {
	return r.ln.Addr().String()
}

// Close releases the ring port.
func (r *Receiver) Close() error {
	return r.ln.Close()
}
