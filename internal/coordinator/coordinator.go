// Package coordinator drives one anonymization request: it owns the shared
// TIPS tree shell, chooses the best refinement each round from securely
// aggregated counts, and orchestrates the final secure set union.
package coordinator

import (
	"context"
	"crypto/rand"
	"fmt"
	"log"
	"math/big"
	"sort"

	"github.com/google/uuid"

	"github.com/shardsafe/kanon-engine/internal/counter"
	"github.com/shardsafe/kanon-engine/internal/cryptobox"
	"github.com/shardsafe/kanon-engine/internal/hierarchy"
	"github.com/shardsafe/kanon-engine/internal/mpc"
	"github.com/shardsafe/kanon-engine/internal/ring"
	"github.com/shardsafe/kanon-engine/internal/tips"
	"github.com/shardsafe/kanon-engine/pkg/models"
)

// State tracks the per-request machine. The TIPS tree is only mutated in
// StartRound and read in CompleteRound, so the states double as the guard
// against concurrent access.
type State int

const (
	StateInit State = iota
	StateAwaitingCounters
	StateDeciding
	StateCollecting
	StateDone
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "Init"
	case StateAwaitingCounters:
		return "AwaitingCounters"
	case StateDeciding:
		return "Deciding"
	case StateCollecting:
		return "Collecting"
	case StateDone:
		return "Done"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Event reports round progress to an optional observer (status API, logs).
type Event struct {
	RequestID string `json:"request_id"`
	State     string `json:"state"`
	Round     int    `json:"round"`
	BestAttr  int    `json:"best_attr,omitempty"`
	BestLabel string `json:"best_label,omitempty"`
	NewNodes  int    `json:"new_nodes,omitempty"`
}

// Config assembles one request.
type Config struct {
	K            int
	Trees        hierarchy.AttributeTrees
	Criteria     []models.Criterion
	Participants []models.Party // ascending ids starting at 1
	Self         models.Party   // the coordinator, id 0
	Oracle       mpc.Oracle
	// DummyWidth is the column count of dummy rows, matching the dataset
	// being anonymized.
	DummyWidth int
	// Progress is invoked after every state transition when set.
	Progress func(Event)
}

// Coordinator is the per-request state machine for the central unit. It never
// sees records or DataContent counters; its view of the data is limited to
// the bucketed oracle outputs.
type Coordinator struct {
	RequestID string

	cfg     Config
	parties []models.Party // coordinator first, then participants
	first   models.Party
	keys    *cryptobox.KeyPair

	linkHeads      *tips.LinkHeads
	newestNodes    []*tips.Node
	counterData    *counter.Data
	relevantGroups []counter.Group

	bestAttr  int
	bestLabel string
	haveBest  bool

	state State
	round int
	seq   int
}

// New validates the configuration and builds the initial single-node TIPS
// shell with all counters Undefined.
func New(cfg Config) (*Coordinator, error) {
	if cfg.K < 2 {
		return nil, fmt.Errorf("anonymity parameter k must be at least 2, got %d", cfg.K)
	}
	if len(cfg.Participants) <= 1 {
		return nil, fmt.Errorf("the protocol requires more than 1 participant, got %d", len(cfg.Participants))
	}
	for i, p := range cfg.Participants {
		if p.ID != i+1 {
			return nil, fmt.Errorf("participant ids must ascend from 1, got id %d at position %d", p.ID, i)
		}
	}
	if cfg.Self.ID != 0 {
		return nil, fmt.Errorf("the coordinator must have id 0, got %d", cfg.Self.ID)
	}
	if err := cfg.Trees.CheckConsistency(); err != nil {
		return nil, fmt.Errorf("inconsistent attribute hierarchy: %w", err)
	}

	keys, err := cryptobox.GenerateKeyPair()
	if err != nil {
		return nil, err
	}

	root, err := tips.NewShellNode(cfg.Trees)
	if err != nil {
		return nil, err
	}

	parties := make([]models.Party, 0, len(cfg.Participants)+1)
	parties = append(parties, cfg.Self)
	parties = append(parties, cfg.Participants...)

	return &Coordinator{
		RequestID:   uuid.NewString(),
		cfg:         cfg,
		parties:     parties,
		first:       cfg.Participants[0],
		keys:        keys,
		linkHeads:   tips.Setup(root, cfg.Trees),
		newestNodes: []*tips.Node{root},
		state:       StateInit,
	}, nil
}

// First returns the ring successor of the coordinator.
func (c *Coordinator) First() models.Party {
	return c.first
}

// State returns the current machine state.
func (c *Coordinator) State() State {
	return c.state
}

// Round returns the number of completed oracle rounds, the initial round
// included; the number of refinements applied is one less.
func (c *Coordinator) Round() int {
	return c.round
}

func (c *Coordinator) emit(ev Event) {
	ev.RequestID = c.RequestID
	ev.State = c.state.String()
	ev.Round = c.round
	if c.cfg.Progress != nil {
		c.cfg.Progress(ev)
	}
}

func (c *Coordinator) nextSeq() int {
	s := c.seq
	c.seq++
	return s
}

// prepareRound snapshots the newest nodes' counters, derives the Undefined
// groups the oracle must resolve and returns the pending node-id list for the
// ring announcement.
func (c *Coordinator) prepareRound() []string {
	c.counterData = tips.ExtractCounterData(c.newestNodes)
	c.relevantGroups = counter.GroupsFrom(c.counterData, true)
	return counter.NodeIDs(c.relevantGroups)
}

// StartInitialRound emits the INFORMATION message opening the request.
func (c *Coordinator) StartInitialRound() (*ring.Message, error) {
	if c.state != StateInit {
		return nil, fmt.Errorf("start_initial_round in state %s", c.state)
	}

	pending := c.prepareRound()
	log.Printf("Central initial round: %d pending counters", len(pending))

	c.state = StateAwaitingCounters
	c.emit(Event{NewNodes: len(c.newestNodes)})

	return &ring.Message{
		Kind:           ring.Information,
		RequestID:      c.RequestID,
		Seq:            c.nextSeq(),
		K:              c.cfg.K,
		Criteria:       c.cfg.Criteria,
		AttributeTrees: c.cfg.Trees,
		PublicKey:      c.keys.PublicKeyBytes(),
		Parties:        c.parties,
		PendingIDs:     pending,
	}, nil
}

// ValidateEcho checks the message that traveled the full ring against what
// this round announced. Kind or arity drift is a ring protocol violation and
// aborts the request.
func (c *Coordinator) ValidateEcho(msg *ring.Message, want ring.Kind) error {
	if msg.Kind != want {
		return fmt.Errorf("ring protocol violation: expected %s, received %s", want, msg.Kind)
	}
	if msg.RequestID != c.RequestID {
		return fmt.Errorf("ring protocol violation: message for request %s while serving %s", msg.RequestID, c.RequestID)
	}
	if want != ring.End {
		if got, announced := len(msg.PendingIDs), len(counter.NodeIDs(c.relevantGroups)); got != announced {
			return fmt.Errorf("ring protocol violation: %d pending node ids returned, %d announced", got, announced)
		}
	}
	return nil
}

// CompleteRound invokes the oracle for the pending groups, incorporates the
// bucketed outputs into the TIPS shell and records the next best refinement.
// With no refinement left the machine moves on to collection.
func (c *Coordinator) CompleteRound(ctx context.Context) error {
	if c.state != StateAwaitingCounters {
		return fmt.Errorf("complete_round in state %s", c.state)
	}

	if len(c.relevantGroups) > 0 {
		resolved, err := c.cfg.Oracle.SecureSumsGreaterK(ctx, c.parties, c.cfg.Self.ID, c.relevantGroups, c.cfg.K)
		if err != nil {
			return fmt.Errorf("oracle failed: %w", err)
		}
		for _, g := range resolved {
			for _, e := range g {
				if e.Counter.Type == counter.DataContent {
					return fmt.Errorf("ring protocol violation: coordinator received a DataContent counter for node %s", e.ID)
				}
			}
		}

		c.counterData = counter.Incorporate(c.counterData, resolved)
		for _, node := range c.newestNodes {
			nc, ok := c.counterData.Get(node.ID)
			if !ok {
				return fmt.Errorf("counter data lost for node %s", node.ID)
			}
			if err := node.SetCounterValues(nc); err != nil {
				return err
			}
		}
	}

	c.round++
	c.bestAttr, c.bestLabel, c.haveBest = c.linkHeads.BestRefinement(c.cfg.K)
	if c.haveBest {
		log.Printf("Next best refinement: (%d, %q)", c.bestAttr, c.bestLabel)
		c.state = StateDeciding
		c.emit(Event{BestAttr: c.bestAttr, BestLabel: c.bestLabel})
	} else {
		log.Printf("No further refinement possible after %d rounds", c.round)
		c.state = StateCollecting
		c.emit(Event{})
	}
	return nil
}

// CanPerformRound reports whether the data can be specialized further.
func (c *Coordinator) CanPerformRound() bool {
	return c.haveBest
}

// StartRound applies the recorded refinement to the shared tree and emits the
// INSTRUCTION message announcing it together with the freshly pending
// node-id list.
func (c *Coordinator) StartRound() (*ring.Message, error) {
	if c.state != StateDeciding {
		return nil, fmt.Errorf("start_round in state %s", c.state)
	}

	newNodes, err := c.linkHeads.Refine(c.bestAttr, c.bestLabel)
	if err != nil {
		return nil, err
	}
	c.newestNodes = newNodes

	pending := c.prepareRound()
	log.Printf("Central regular round %d: refined (%d, %q) into %d nodes, %d pending counters",
		c.round, c.bestAttr, c.bestLabel, len(newNodes), len(pending))

	c.state = StateAwaitingCounters
	c.emit(Event{BestAttr: c.bestAttr, BestLabel: c.bestLabel, NewNodes: len(newNodes)})

	return &ring.Message{
		Kind:       ring.Instruction,
		RequestID:  c.RequestID,
		Seq:        c.nextSeq(),
		PendingIDs: pending,
		BestAttr:   c.bestAttr,
		BestLabel:  c.bestLabel,
	}, nil
}

// StartCollection seeds the secure set union with a random number of sealed
// dummy rows so the count of real rows entering at each hop stays hidden.
func (c *Coordinator) StartCollection() (*ring.Message, error) {
	if c.state != StateCollecting {
		return nil, fmt.Errorf("start_collection in state %s", c.state)
	}

	dummies, err := c.generateDummies()
	if err != nil {
		return nil, err
	}
	sealed, err := cryptobox.EncryptRows(dummies, c.keys.PublicKey())
	if err != nil {
		return nil, err
	}

	c.emit(Event{NewNodes: len(sealed)})

	return &ring.Message{
		Kind:        ring.End,
		RequestID:   c.RequestID,
		Seq:         c.nextSeq(),
		Ciphertexts: sealed,
	}, nil
}

func (c *Coordinator) generateDummies() ([]models.Row, error) {
	span := int64(models.NrDummiesMax - models.NrDummiesMin + 1)
	n, err := rand.Int(rand.Reader, big.NewInt(span))
	if err != nil {
		return nil, fmt.Errorf("drawing dummy count: %v", err)
	}
	count := models.NrDummiesMin + int(n.Int64())

	rows := make([]models.Row, 0, count)
	for i := 0; i < count; i++ {
		key, err := rand.Int(rand.Reader, big.NewInt(101))
		if err != nil {
			return nil, fmt.Errorf("drawing dummy sort key: %v", err)
		}
		rows = append(rows, models.DummyRow(c.cfg.DummyWidth, key.Int64()))
	}
	return rows, nil
}

// CompleteCollection opens every sealed row, drops the dummies and returns
// the union sorted by the second column. Any decryption failure is fatal.
func (c *Coordinator) CompleteCollection(ciphertexts [][]byte) ([]models.Row, error) {
	if c.state != StateCollecting {
		return nil, fmt.Errorf("complete_collection in state %s", c.state)
	}

	rows, err := c.keys.DecryptRows(ciphertexts)
	if err != nil {
		return nil, fmt.Errorf("opening collected rows: %w", err)
	}

	result := make([]models.Row, 0, len(rows))
	for _, row := range rows {
		if !row.IsDummy() {
			result = append(result, row)
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		if len(result[i]) < 2 || len(result[j]) < 2 {
			return len(result[i]) < len(result[j])
		}
		return models.CompareCells(result[i][1], result[j][1]) < 0
	})

	c.state = StateDone
	c.emit(Event{NewNodes: len(result)})
	return result, nil
}

// Execute drives a full request over the real ring transport: send each
// message to the first participant, wait for it to travel the ring, and run
// the round bookkeeping in between.
func Execute(ctx context.Context, c *Coordinator, rx *ring.Receiver) ([]models.Row, error) {
	msg, err := c.StartInitialRound()
	if err != nil {
		return nil, err
	}
	if err := ring.Send(ctx, c.First(), msg); err != nil {
		return nil, err
	}
	echo, err := rx.Receive(ctx)
	if err != nil {
		return nil, err
	}
	if err := c.ValidateEcho(echo, ring.Information); err != nil {
		return nil, err
	}
	if err := c.CompleteRound(ctx); err != nil {
		return nil, err
	}

	for c.CanPerformRound() {
		msg, err := c.StartRound()
		if err != nil {
			return nil, err
		}
		if err := ring.Send(ctx, c.First(), msg); err != nil {
			return nil, err
		}
		echo, err := rx.Receive(ctx)
		if err != nil {
			return nil, err
		}
		if err := c.ValidateEcho(echo, ring.Instruction); err != nil {
			return nil, err
		}
		if err := c.CompleteRound(ctx); err != nil {
			return nil, err
		}
	}

	endMsg, err := c.StartCollection()
	if err != nil {
		return nil, err
	}
	if err := ring.Send(ctx, c.First(), endMsg); err != nil {
		return nil, err
	}
	final, err := rx.Receive(ctx)
	if err != nil {
		return nil, err
	}
	if err := c.ValidateEcho(final, ring.End); err != nil {
		return nil, err
	}

	return c.CompleteCollection(final.Ciphertexts)
}
