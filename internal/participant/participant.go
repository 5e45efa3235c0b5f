// Package participant implements the data-holding side of the protocol: it
// owns a slice of records, mirrors every refinement the coordinator
// announces, contributes its local counts to the secure-sum oracle, and
// finally hands over sealed anonymized rows.
package participant

import (
	"context"
	"fmt"
	"log"
	"strconv"

	"github.com/shardsafe/kanon-engine/internal/counter"
	"github.com/shardsafe/kanon-engine/internal/cryptobox"
	"github.com/shardsafe/kanon-engine/internal/hierarchy"
	"github.com/shardsafe/kanon-engine/internal/mpc"
	"github.com/shardsafe/kanon-engine/internal/ring"
	"github.com/shardsafe/kanon-engine/internal/tips"
	"github.com/shardsafe/kanon-engine/pkg/models"
)

// Participant holds the per-request state of one data-holding party. All
// state is owned by the request instance; a failed request is discarded
// wholesale.
type Participant struct {
	id        int
	requestID string
	criteria  []models.Criterion
	trees     hierarchy.AttributeTrees
	centralPK *[32]byte
	parties   []models.Party
	next      models.Party

	linkHeads   *tips.LinkHeads
	newestNodes []*tips.Node

	oracle mpc.Oracle
	k      int
}

// New builds the per-request participant state from the opening INFORMATION
// message: validate the hierarchies, filter the local records by the request
// criteria, and set up the local TIPS tree with DataContent counters.
func New(id int, categories []string, records []models.Row, info *ring.Message, oracle mpc.Oracle) (*Participant, error) {
	if info.Kind != ring.Information {
		return nil, fmt.Errorf("participant %d: expected %s to open the request, got %s", id, ring.Information, info.Kind)
	}
	if info.K < 2 {
		return nil, fmt.Errorf("participant %d: invalid anonymity parameter k=%d", id, info.K)
	}
	if err := info.AttributeTrees.CheckConsistency(); err != nil {
		return nil, fmt.Errorf("participant %d: inconsistent attribute hierarchy: %w", id, err)
	}

	pk, err := cryptobox.PublicKeyFromBytes(info.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("participant %d: %v", id, err)
	}
	next, err := models.NextInRing(info.Parties, id)
	if err != nil {
		return nil, fmt.Errorf("participant %d: %v", id, err)
	}

	matching := FilterByCriteria(records, categories, info.Criteria)
	root, err := tips.NewDataNode(matching, info.AttributeTrees)
	if err != nil {
		return nil, fmt.Errorf("participant %d: %v", id, err)
	}

	return &Participant{
		id:          id,
		requestID:   info.RequestID,
		criteria:    info.Criteria,
		trees:       info.AttributeTrees,
		centralPK:   pk,
		parties:     info.Parties,
		next:        next,
		linkHeads:   tips.Setup(root, info.AttributeTrees),
		newestNodes: []*tips.Node{root},
		oracle:      oracle,
		k:           info.K,
	}, nil
}

// Next returns the ring successor of this participant.
func (p *Participant) Next() models.Party {
	return p.next
}

// FilterByCriteria gathers the local rows matching every criterion and
// redacts the first column (the center identifier) to "*". An unknown
// category or an unparseable comparison value empties the local contribution;
// the protocol proceeds with zero rows rather than leaking which check
// failed.
func FilterByCriteria(records []models.Row, categories []string, criteria []models.Criterion) []models.Row {
	result := make([]models.Row, 0, len(records))
	for _, row := range records {
		out := row.Clone()
		if len(out) > 0 {
			out[0] = "*"
		}
		result = append(result, out)
	}

	for _, criterion := range criteria {
		index := -1
		for i, cat := range categories {
			if cat == criterion.Category {
				index = i
				break
			}
		}
		if index < 0 {
			log.Printf("Criterion %q is not present in the local database", criterion.Category)
			result = []models.Row{}
			continue
		}

		value, err := strconv.ParseFloat(criterion.Value, 64)
		if err != nil {
			log.Printf("Criterion value %q is not numerical", criterion.Value)
			result = []models.Row{}
			break
		}

		filtered := make([]models.Row, 0, len(result))
		for _, row := range result {
			if index >= len(row) {
				continue
			}
			cell, ok := models.Numeric(row[index])
			if !ok {
				continue
			}
			switch criterion.Operator {
			case "=":
				if cell == value {
					filtered = append(filtered, row)
				}
			case "<":
				if cell < value {
					filtered = append(filtered, row)
				}
			case ">":
				if cell > value {
					filtered = append(filtered, row)
				}
			}
		}
		result = filtered
	}

	return result
}

// ContributeCounters submits this party's DataContent counts for the pending
// node ids to the oracle. The group list is derived from the newest local
// nodes exactly the way the coordinator derives its Undefined groups, so
// group order and arity line up across all parties; the bucketed outputs are
// discarded here — only the coordinator consumes them.
func (p *Participant) ContributeCounters(ctx context.Context, pendingIDs []string) error {
	if len(pendingIDs) == 0 {
		// Nothing pending — every party skips the oracle this round.
		return nil
	}
	data := tips.ExtractCounterData(p.newestNodes)
	groups := counter.FilterByID(counter.GroupsFrom(data, false), pendingIDs)

	if got := len(counter.NodeIDs(groups)); got != len(pendingIDs) {
		return fmt.Errorf("participant %d: pending id list names %d counters, local tree yields %d", p.id, len(pendingIDs), got)
	}

	_, err := p.oracle.SecureSumsGreaterK(ctx, p.parties, p.id, groups, p.k)
	if err != nil {
		return fmt.Errorf("participant %d: oracle failed: %w", p.id, err)
	}
	return nil
}

// ApplyInstruction mirrors the coordinator's refinement on the local tree.
// The transformation is deterministic, so the spawned child ids are
// byte-identical to the coordinator's and the subsequent oracle call aligns.
func (p *Participant) ApplyInstruction(bestAttr int, bestLabel string) error {
	newNodes, err := p.linkHeads.Refine(bestAttr, bestLabel)
	if err != nil {
		return fmt.Errorf("participant %d: applying refinement (%d, %q): %w", p.id, bestAttr, bestLabel, err)
	}
	p.newestNodes = newNodes
	return nil
}

// Collect performs this party's secure-set-union step: seal the anonymized
// local rows to the coordinator's key, append them to the list received from
// the predecessor, and shuffle the combined list so position reveals nothing
// about origin.
func (p *Participant) Collect(received [][]byte) ([][]byte, error) {
	rows := p.linkHeads.AnonymizedRows()
	sealed, err := cryptobox.EncryptRows(rows, p.centralPK)
	if err != nil {
		return nil, fmt.Errorf("participant %d: %v", p.id, err)
	}

	combined := make([][]byte, 0, len(received)+len(sealed))
	combined = append(combined, sealed...)
	combined = append(combined, received...)
	if err := cryptobox.Shuffle(combined); err != nil {
		return nil, fmt.Errorf("participant %d: %v", p.id, err)
	}
	return combined, nil
}

// Serve runs one complete request over the real ring transport: wait for the
// opening INFORMATION, then answer ring traffic until the END message has
// been extended and forwarded.
func Serve(ctx context.Context, id int, ringAddr string, categories []string, records []models.Row, oracle mpc.Oracle) error {
	rx, err := ring.Listen(ringAddr)
	if err != nil {
		return err
	}
	defer rx.Close()

	info, err := rx.Receive(ctx)
	if err != nil {
		return err
	}

	p, err := New(id, categories, records, info, oracle)
	if err != nil {
		return err
	}
	log.Printf("Participant %d: request %s opened, forwarding to party %d", id, p.requestID, p.next.ID)

	if err := ring.Send(ctx, p.next, info); err != nil {
		return err
	}
	if err := p.ContributeCounters(ctx, info.PendingIDs); err != nil {
		return err
	}

	for {
		msg, err := rx.Receive(ctx)
		if err != nil {
			return err
		}
		if msg.RequestID != p.requestID {
			return fmt.Errorf("participant %d: message for request %s while serving %s", id, msg.RequestID, p.requestID)
		}

		switch msg.Kind {
		case ring.Instruction:
			if err := p.ApplyInstruction(msg.BestAttr, msg.BestLabel); err != nil {
				return err
			}
			if err := ring.Send(ctx, p.next, msg); err != nil {
				return err
			}
			if err := p.ContributeCounters(ctx, msg.PendingIDs); err != nil {
				return err
			}

		case ring.End:
			combined, err := p.Collect(msg.Ciphertexts)
			if err != nil {
				return err
			}
			out := *msg
			out.Ciphertexts = combined
			if err := ring.Send(ctx, p.next, &out); err != nil {
				return err
			}
			log.Printf("Participant %d: request %s complete, %d sealed rows forwarded", id, p.requestID, len(combined))
			return nil

		default:
			return fmt.Errorf("participant %d: unexpected request type %s", id, msg.Kind)
		}
	}
}
