// Package engine runs the complete protocol inside one process: the
// coordinator and every participant live in their own goroutine, ring edges
// are channels instead of TCP, and the oracle is the in-process exchange.
// This is the evaluation and test harness — the distributed semantics are
// identical, only transport and oracle realization differ.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shardsafe/kanon-engine/internal/coordinator"
	"github.com/shardsafe/kanon-engine/internal/hierarchy"
	"github.com/shardsafe/kanon-engine/internal/metrics"
	"github.com/shardsafe/kanon-engine/internal/mpc"
	"github.com/shardsafe/kanon-engine/internal/participant"
	"github.com/shardsafe/kanon-engine/internal/ring"
	"github.com/shardsafe/kanon-engine/pkg/models"
)

// Config describes one local run. PartyRecords holds each participant's
// disjoint slice of the dataset; its length fixes the number of parties.
type Config struct {
	K            int
	Trees        hierarchy.AttributeTrees
	Criteria     []models.Criterion
	Categories   []string
	PartyRecords [][]models.Row
	DummyWidth   int
	Progress     func(coordinator.Event)
}

// Result of a completed local run.
type Result struct {
	RequestID  string
	Rows       []models.Row
	Rounds     int
	KAnonymous bool
	Elapsed    time.Duration
}

// Run executes one request to completion and verifies the k-anonymity of the
// returned union.
func Run(ctx context.Context, cfg Config) (*Result, error) {
	if cfg.DummyWidth == 0 {
		cfg.DummyWidth = len(cfg.Categories)
	}

	n := len(cfg.PartyRecords)
	participants := make([]models.Party, n)
	for i := range participants {
		participants[i] = models.Party{ID: i + 1, Host: "local"}
	}
	self := models.Party{ID: 0, Host: "local"}

	exchange := mpc.NewInProcessExchange()
	coord, err := coordinator.New(coordinator.Config{
		K:            cfg.K,
		Trees:        cfg.Trees,
		Criteria:     cfg.Criteria,
		Participants: participants,
		Self:         self,
		Oracle:       exchange,
		DummyWidth:   cfg.DummyWidth,
		Progress:     cfg.Progress,
	})
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// One channel per ring edge: edges[i] feeds party i+1, the last edge
	// closes the ring back to the coordinator.
	edges := make([]chan *ring.Message, n+1)
	for i := range edges {
		edges[i] = make(chan *ring.Message, 1)
	}

	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		go func(idx int) {
			err := runParticipant(ctx, idx+1, cfg, exchange, edges[idx], edges[idx+1])
			if err != nil {
				cancel()
			}
			errs <- err
		}(i)
	}

	start := time.Now()
	rows, err := drive(ctx, coord, edges[0], edges[n])
	if err != nil {
		cancel()
		// Surface a participant failure if one caused the abort. Participants
		// that merely observed the cancellation are not the cause.
		var cause error
		for i := 0; i < n; i++ {
			if perr := <-errs; perr != nil && cause == nil && !errors.Is(perr, context.Canceled) {
				cause = perr
			}
		}
		if cause != nil {
			return nil, cause
		}
		return nil, err
	}
	for i := 0; i < n; i++ {
		if perr := <-errs; perr != nil {
			return nil, perr
		}
	}

	attrs := cfg.Trees.SortedIndices()
	return &Result{
		RequestID:  coord.RequestID,
		Rows:       rows,
		Rounds:     coord.Round() - 1,
		KAnonymous: metrics.FulfillsKAnonymity(rows, attrs, cfg.K),
		Elapsed:    time.Since(start),
	}, nil
}

// drive mirrors coordinator.Execute over channel edges.
func drive(ctx context.Context, coord *coordinator.Coordinator, out chan<- *ring.Message, in <-chan *ring.Message) ([]models.Row, error) {
	roundTrip := func(msg *ring.Message, want ring.Kind) (*ring.Message, error) {
		if err := send(ctx, out, msg); err != nil {
			return nil, err
		}
		echo, err := recv(ctx, in)
		if err != nil {
			return nil, err
		}
		if err := coord.ValidateEcho(echo, want); err != nil {
			return nil, err
		}
		return echo, nil
	}

	msg, err := coord.StartInitialRound()
	if err != nil {
		return nil, err
	}
	if _, err := roundTrip(msg, ring.Information); err != nil {
		return nil, err
	}
	if err := coord.CompleteRound(ctx); err != nil {
		return nil, err
	}

	for coord.CanPerformRound() {
		msg, err := coord.StartRound()
		if err != nil {
			return nil, err
		}
		if _, err := roundTrip(msg, ring.Instruction); err != nil {
			return nil, err
		}
		if err := coord.CompleteRound(ctx); err != nil {
			return nil, err
		}
	}

	endMsg, err := coord.StartCollection()
	if err != nil {
		return nil, err
	}
	final, err := roundTrip(endMsg, ring.End)
	if err != nil {
		return nil, err
	}
	return coord.CompleteCollection(final.Ciphertexts)
}

func runParticipant(ctx context.Context, id int, cfg Config, oracle mpc.Oracle, in <-chan *ring.Message, out chan<- *ring.Message) error {
	info, err := recv(ctx, in)
	if err != nil {
		return err
	}

	p, err := participant.New(id, cfg.Categories, cfg.PartyRecords[id-1], info, oracle)
	if err != nil {
		return err
	}
	if err := send(ctx, out, info); err != nil {
		return err
	}
	if err := p.ContributeCounters(ctx, info.PendingIDs); err != nil {
		return err
	}

	for {
		msg, err := recv(ctx, in)
		if err != nil {
			return err
		}

		switch msg.Kind {
		case ring.Instruction:
			if err := p.ApplyInstruction(msg.BestAttr, msg.BestLabel); err != nil {
				return err
			}
			if err := send(ctx, out, msg); err != nil {
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
			final := *msg
			final.Ciphertexts = combined
			return send(ctx, out, &final)

		default:
			return fmt.Errorf("participant %d: unexpected request type %s", id, msg.Kind)
		}
	}
}

func send(ctx context.Context, ch chan<- *ring.Message, msg *ring.Message) error {
	select {
	case ch <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func recv(ctx context.Context, ch <-chan *ring.Message) (*ring.Message, error) {
	select {
	case msg := <-ch:
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
