package mpc

import (
	"context"
	"fmt"
	"sync"

	"github.com/shardsafe/kanon-engine/internal/counter"
	"github.com/shardsafe/kanon-engine/pkg/models"
)

// InProcessExchange realizes the oracle for parties living in one process
// (the local engine runner and the test suite). Each party calls
// SecureSumsGreaterK once per round; the call blocks until every party on
// the roster has contributed, then all callers receive the same bucketed
// result.
//
// It computes on plaintext inputs and therefore provides no privacy against
// a curious process owner — fine for evaluation, not for deployment.
type InProcessExchange struct {
	mu      sync.Mutex
	current *exchangeRound
}

type exchangeRound struct {
	expected int
	inputs   [][][]int64
	done     chan struct{}
	result   [][]int64
	err      error
}

func NewInProcessExchange() *InProcessExchange {
	return &InProcessExchange{}
}

func (e *InProcessExchange) SecureSumsGreaterK(ctx context.Context, parties []models.Party, myID int, groups []counter.Group, k int) ([]counter.Group, error) {
	ids, values := buildInputs(groups)

	e.mu.Lock()
	if e.current == nil {
		e.current = &exchangeRound{expected: len(parties), done: make(chan struct{})}
	}
	r := e.current
	r.inputs = append(r.inputs, values)
	if len(r.inputs) == r.expected {
		r.result, r.err = e.aggregate(r.inputs, k)
		e.current = nil
		close(r.done)
	}
	e.mu.Unlock()

	select {
	case <-r.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if r.err != nil {
		return nil, r.err
	}
	return mapOutputs(ids, r.result)
}

func (e *InProcessExchange) aggregate(inputs [][][]int64, k int) ([][]int64, error) {
	ref := inputs[0]
	sums := make([][]int64, len(ref))
	for gi := range ref {
		sums[gi] = make([]int64, len(ref[gi]))
	}

	for pi, partyInputs := range inputs {
		if len(partyInputs) != len(ref) {
			return nil, fmt.Errorf("group arity mismatch between parties: %d vs %d groups (party input %d)", len(ref), len(partyInputs), pi)
		}
		for gi := range partyInputs {
			if len(partyInputs[gi]) != len(ref[gi]) {
				return nil, fmt.Errorf("entry arity mismatch between parties in group %d", gi)
			}
			for ei, v := range partyInputs[gi] {
				sums[gi][ei] += v
			}
		}
	}

	return bucketSums(sums, k), nil
}
