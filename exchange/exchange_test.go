// Copyright 2025 Parentheses Labs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package exchange

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/parentheses-network/kex/artifact"
	"github.com/parentheses-network/kex/consensus"
	"github.com/parentheses-network/kex/database"
	"github.com/parentheses-network/kex/lineage"
	"github.com/parentheses-network/kex/reward"
	"github.com/parentheses-network/kex/settlement"
	"github.com/parentheses-network/kex/validator"
)

type testHarness struct {
	db       *database.Database
	registry *artifact.Registry
	graph    *lineage.Graph
	pool     *validator.Pool
	engine   *consensus.Engine
	exchange *Exchange
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()
	db, err := database.New(database.Config{DataDir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() {
		db.Close()
	})
	registry := artifact.NewRegistry(artifact.RegistryConfig{
		Database:     db,
		PromRegistry: prometheus.NewRegistry(),
	})
	graph := lineage.NewGraph(lineage.GraphConfig{
		Database:     db,
		PromRegistry: prometheus.NewRegistry(),
	})
	pool, err := validator.NewPool(validator.PoolConfig{
		Database:     db,
		PromRegistry: prometheus.NewRegistry(),
	})
	require.NoError(t, err)
	for i := range 5 {
		require.NoError(
			t,
			pool.Register(fmt.Sprintf("validator-%d", i), 1000, nil),
		)
	}
	engine := consensus.NewEngine(consensus.EngineConfig{
		Database:      db,
		PromRegistry:  prometheus.NewRegistry(),
		Registry:      registry,
		StatusWriter:  artifact.NewStatusWriter(registry),
		Pool:          pool,
		QuorumTarget:  3,
		MinimumQuorum: 3,
	})
	calculator, err := reward.NewCalculator(reward.CalculatorConfig{})
	require.NoError(t, err)
	ledger := settlement.NewLedger(settlement.LedgerConfig{
		Database:     db,
		PromRegistry: prometheus.NewRegistry(),
	})
	exchange := New(ExchangeConfig{
		PromRegistry: prometheus.NewRegistry(),
		Registry:     registry,
		Graph:        graph,
		Engine:       engine,
		Calculator:   calculator,
		Ledger:       ledger,
	})
	return &testHarness{
		db:       db,
		registry: registry,
		graph:    graph,
		pool:     pool,
		engine:   engine,
		exchange: exchange,
	}
}

func (h *testHarness) submit(
	t *testing.T,
	seed string,
	parents ...artifact.ParentRef,
) artifact.ArtifactID {
	t.Helper()
	id, _, err := h.exchange.SubmitKnowledge(artifact.Submission{
		Submitter: "participant-" + seed,
		Domain:    "vision",
		Version:   "1.0.0",
		Payload:   []byte(seed),
		Parents:   parents,
	})
	require.NoError(t, err)
	return id
}

func (h *testHarness) acceptRound(
	t *testing.T,
	id artifact.ArtifactID,
	score float64,
) consensus.RoundID {
	t.Helper()
	info, err := h.engine.OpenRound(id)
	require.NoError(t, err)
	for _, validatorId := range info.Validators {
		require.NoError(
			t,
			h.engine.SubmitVote(info.Round, validatorId, score, true),
		)
	}
	return info.Round
}

func TestSubmitKnowledgeRecordsLineage(t *testing.T) {
	h := newTestHarness(t)
	parent := h.submit(t, "parent")
	child := h.submit(t, "child", artifact.ParentRef{
		ID:       parent,
		Relation: artifact.RelationDerivedFrom,
	})

	parents, err := h.graph.ParentsOf(child)
	require.NoError(t, err)
	require.Len(t, parents, 1)
	assert.Equal(t, parent, parents[0].ID)
}

func TestSubmitKnowledgeDanglingParent(t *testing.T) {
	h := newTestHarness(t)
	var missing artifact.ArtifactID
	missing[0] = 0xff

	_, _, err := h.exchange.SubmitKnowledge(artifact.Submission{
		Submitter: "participant-1",
		Domain:    "vision",
		Version:   "1.0.0",
		Payload:   []byte("orphan"),
		Parents: []artifact.ParentRef{
			{ID: missing, Relation: artifact.RelationDerivedFrom},
		},
	})
	var dangling *lineage.DanglingParentError
	require.ErrorAs(t, err, &dangling)

	// Nothing was registered
	pending, err := h.registry.ListByStatus(artifact.StatusPending)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestSubmitKnowledgeDuplicateSkipsLineage(t *testing.T) {
	h := newTestHarness(t)
	parent := h.submit(t, "parent")
	child := h.submit(t, "child", artifact.ParentRef{
		ID:       parent,
		Relation: artifact.RelationDerivedFrom,
	})

	// Resubmission resolves to the same artifact and does not duplicate edges
	again, existing, err := h.exchange.SubmitKnowledge(artifact.Submission{
		Submitter: "participant-child",
		Domain:    "vision",
		Version:   "1.0.0",
		Payload:   []byte("child"),
		Parents: []artifact.ParentRef{
			{ID: parent, Relation: artifact.RelationDerivedFrom},
		},
	})
	require.NoError(t, err)
	assert.True(t, existing)
	assert.Equal(t, child, again)

	parents, err := h.graph.ParentsOf(child)
	require.NoError(t, err)
	assert.Len(t, parents, 1)
}

func TestFinalizeAndSettleAccepted(t *testing.T) {
	h := newTestHarness(t)
	parent := h.submit(t, "parent")
	child := h.submit(t, "child", artifact.ParentRef{
		ID:       parent,
		Relation: artifact.RelationDerivedFrom,
	})
	roundId := h.acceptRound(t, child, 0.9)

	result, record, err := h.exchange.FinalizeAndSettle(roundId)
	require.NoError(t, err)
	assert.Equal(t, consensus.OutcomeAccepted, result.Outcome)
	assert.Equal(t, int64(1), record.Seq)

	// Pool floor(100 * 0.9) = 90 split between submitter and the one
	// lineage ancestor
	assert.Equal(t, uint64(90), record.PoolAmount)
	shares, err := h.db.Metadata().GetRewardShares(child.Bytes(), nil)
	require.NoError(t, err)
	require.Len(t, shares, 2)
	assert.Equal(t, "participant-child", shares[0].Recipient)
	assert.Equal(t, "participant-parent", shares[1].Recipient)
	assert.Equal(t, uint64(90), shares[0].Amount+shares[1].Amount)
	assert.Greater(t, shares[0].Amount, shares[1].Amount)
}

func TestFinalizeAndSettleRejected(t *testing.T) {
	h := newTestHarness(t)
	id := h.submit(t, "weak")
	info, err := h.engine.OpenRound(id)
	require.NoError(t, err)
	for _, validatorId := range info.Validators {
		require.NoError(
			t,
			h.engine.SubmitVote(info.Round, validatorId, 0.2, false),
		)
	}

	result, record, err := h.exchange.FinalizeAndSettle(info.Round)
	require.NoError(t, err)
	assert.Equal(t, consensus.OutcomeRejected, result.Outcome)
	assert.Equal(t, uint64(0), record.PoolAmount)

	shares, err := h.db.Metadata().GetRewardShares(id.Bytes(), nil)
	require.NoError(t, err)
	assert.Empty(t, shares)
}

func TestRunCycleOpensAndSettles(t *testing.T) {
	h := newTestHarness(t)
	id := h.submit(t, "cycle")

	// First cycle opens a round for the pending artifact
	h.exchange.runCycle()
	open := h.engine.OpenRounds()
	require.Len(t, open, 1)
	assert.Equal(t, id, open[0].Artifact)

	// All votes in; a sweep before the deadline leaves the round alone since
	// Sweep only touches expired rounds, so settle through the engine path
	info, err := h.engine.GetRoundInfo(open[0])
	require.NoError(t, err)
	for _, validatorId := range info.Validators {
		require.NoError(
			t,
			h.engine.SubmitVote(open[0], validatorId, 0.9, true),
		)
	}
	_, _, err = h.exchange.FinalizeAndSettle(open[0])
	require.NoError(t, err)

	// The next cycle has nothing to do
	h.exchange.runCycle()
	assert.Empty(t, h.engine.OpenRounds())

	records, err := h.exchange.config.Ledger.History(0)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestStartStop(t *testing.T) {
	h := newTestHarness(t)
	// The database runs its own background goroutines; only the cycle
	// goroutine started below should be gone after Stop
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	h.exchange.config.CycleInterval = 10 * time.Millisecond
	h.submit(t, "lifecycle")

	h.exchange.Start(context.Background())
	// Wait for at least one cycle to fire
	require.Eventually(t, func() bool {
		return len(h.engine.OpenRounds()) == 1
	}, time.Second, 5*time.Millisecond)
	h.exchange.Stop()

	// Stop is idempotent
	h.exchange.Stop()
}
