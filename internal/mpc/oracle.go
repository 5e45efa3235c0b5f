// Package mpc abstracts the multiparty secure-sum-then-compare primitive.
//
// The engine only ever consumes the primitive through the Oracle interface;
// the arithmetic-then-boolean realization behind it (e.g. an MPC framework
// reduced to a comparator circuit) is outside the core. Two realizations
// ship here: a client for an external MPC backend process, and an in-process
// exchange for single-process runs and tests.
package mpc

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/shardsafe/kanon-engine/internal/counter"
	"github.com/shardsafe/kanon-engine/pkg/models"
)

// ZeroMask is the wire sentinel for "the global sum is exactly zero". The
// remaining convention: 0 means the sum landed in [1, k), anything else is
// the exact sum (≥ k).
const ZeroMask int64 = math.MaxInt64

// Oracle is one invocation of the secure protocol: every party contributes
// its integer inputs per group entry, and every party receives the bucketed
// outputs. Groups are coupled — if any entry's sum lands in [1, k), the whole
// group is masked to BelowK.
type Oracle interface {
	SecureSumsGreaterK(ctx context.Context, parties []models.Party, myID int, groups []counter.Group, k int) ([]counter.Group, error)
}

// ResultFromSum maps a wire sentinel back into a typed counter.
func ResultFromSum(s int64) counter.Counter {
	switch {
	case s == ZeroMask:
		return counter.Counter{Type: counter.Empty}
	case s == 0:
		return counter.Counter{Type: counter.BelowK}
	default:
		return counter.Counter{Type: counter.Valid, N: s}
	}
}

// buildInputs turns counter groups into the canonical per-group input
// vectors. Entries are sorted by node id — every party performs the identical
// sort, which is what keeps input indices aligned across parties without any
// id exchange inside the protocol.
func buildInputs(groups []counter.Group) (ids [][]string, values [][]int64) {
	ids = make([][]string, len(groups))
	values = make([][]int64, len(groups))
	for gi, g := range groups {
		sorted := make(counter.Group, len(g))
		copy(sorted, g)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

		ids[gi] = make([]string, len(sorted))
		values[gi] = make([]int64, len(sorted))
		for ei, e := range sorted {
			ids[gi][ei] = e.ID
			// Undefined counters (the coordinator's placeholders) contribute
			// zero; DataContent counters contribute the real local count.
			values[gi][ei] = e.Counter.N
		}
	}
	return ids, values
}

// mapOutputs re-attaches node ids to the backend's raw sums and converts the
// sentinels into typed counters. An arity mismatch is a protocol violation.
func mapOutputs(ids [][]string, outputs [][]int64) ([]counter.Group, error) {
	if len(outputs) != len(ids) {
		return nil, fmt.Errorf("oracle output arity mismatch: %d groups in, %d out", len(ids), len(outputs))
	}
	result := make([]counter.Group, len(ids))
	for gi := range ids {
		if len(outputs[gi]) != len(ids[gi]) {
			return nil, fmt.Errorf("oracle output arity mismatch in group %d: %d entries in, %d out", gi, len(ids[gi]), len(outputs[gi]))
		}
		g := make(counter.Group, len(ids[gi]))
		for ei := range ids[gi] {
			g[ei] = counter.Entry{ID: ids[gi][ei], Counter: ResultFromSum(outputs[gi][ei])}
		}
		result[gi] = g
	}
	return result, nil
}

// bucketSums applies the threshold and group coupling to plain group sums:
// any sum in [1, k) masks the whole group to 0, otherwise 0-sums become
// ZeroMask and sums ≥ k pass through.
func bucketSums(sums [][]int64, k int) [][]int64 {
	out := make([][]int64, len(sums))
	for gi, group := range sums {
		masked := false
		for _, s := range group {
			if s > 0 && s < int64(k) {
				masked = true
				break
			}
		}
		out[gi] = make([]int64, len(group))
		for ei, s := range group {
			switch {
			case masked:
				out[gi][ei] = 0
			case s == 0:
				out[gi][ei] = ZeroMask
			default:
				out[gi][ei] = s
			}
		}
	}
	return out
}
