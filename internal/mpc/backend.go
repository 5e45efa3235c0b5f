package mpc

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/shardsafe/kanon-engine/internal/counter"
	"github.com/shardsafe/kanon-engine/internal/ring"
	"github.com/shardsafe/kanon-engine/pkg/models"
)

// BackendClient talks to the external MPC backend process co-located with
// this party. The backend holds the actual arithmetic-then-boolean protocol
// state and coordinates with the other parties' backends over the roster's
// motion ports; this client only hands over inputs and collects the bucketed
// sums, using the same length-prefixed JSON framing as the ring.
type BackendClient struct {
	// Addr of the local backend, typically this party's own motion address.
	Addr string
	// Timeout covers one complete protocol invocation. The backend blocks
	// until all parties have contributed, so this must span a full round of
	// the slowest party.
	Timeout time.Duration
}

type backendRequest struct {
	Parties []backendParty `json:"parties"`
	MyID    int            `json:"my_id"`
	Inputs  [][]int64      `json:"inputs"`
	K       int            `json:"k"`
}

type backendParty struct {
	ID   int    `json:"id"`
	Host string `json:"host"`
	Port int    `json:"port"`
}

type backendResponse struct {
	Outputs [][]int64 `json:"outputs"`
	Error   string    `json:"error,omitempty"`
}

func NewBackendClient(addr string) *BackendClient {
	return &BackendClient{Addr: addr, Timeout: 10 * time.Minute}
}

func (c *BackendClient) SecureSumsGreaterK(ctx context.Context, parties []models.Party, myID int, groups []counter.Group, k int) ([]counter.Group, error) {
	if len(groups) == 0 {
		return nil, nil
	}

	ids, values := buildInputs(groups)

	req := backendRequest{MyID: myID, Inputs: values, K: k}
	for _, p := range parties {
		req.Parties = append(req.Parties, backendParty{ID: p.ID, Host: p.Host, Port: p.MotionPort})
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encoding oracle request: %v", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	dialer := net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", c.Addr)
	if err != nil {
		return nil, fmt.Errorf("dialing MPC backend %s: %v", c.Addr, err)
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	if err := ring.WriteFrame(conn, payload); err != nil {
		return nil, fmt.Errorf("submitting oracle inputs: %v", err)
	}
	raw, err := ring.ReadFrame(conn)
	if err != nil {
		return nil, fmt.Errorf("reading oracle outputs: %v", err)
	}

	var resp backendResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decoding oracle response: %v", err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("MPC backend reported: %s", resp.Error)
	}

	return mapOutputs(ids, resp.Outputs)
}
