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

package settlement

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parentheses-network/kex/consensus"
	"github.com/parentheses-network/kex/database"
	"github.com/parentheses-network/kex/reward"
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	db, err := database.New(database.Config{DataDir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() {
		db.Close()
	})
	return NewLedger(LedgerConfig{
		Database:     db,
		PromRegistry: prometheus.NewRegistry(),
	})
}

func testResult(seed byte, outcome consensus.Outcome) consensus.Result {
	var id [32]byte
	id[0] = seed
	return consensus.Result{
		Round:   consensus.RoundID{Artifact: id, Seq: 1},
		Outcome: outcome,
	}
}

func testAllocation(pool uint64) reward.Allocation {
	return reward.Allocation{
		Pool: pool,
		Shares: []reward.Share{
			{
				Recipient: "participant-1",
				Role:      reward.RoleSubmitter,
				Amount:    pool,
			},
		},
	}
}

func TestSettleAssignsMonotonicSeq(t *testing.T) {
	ledger := newTestLedger(t)

	first, err := ledger.Settle(
		testResult(1, consensus.OutcomeAccepted),
		testAllocation(100),
	)
	require.NoError(t, err)
	assert.Equal(t, int64(1), first.Seq)
	assert.Equal(t, uint64(100), first.PoolAmount)
	assert.NotEmpty(t, first.TxRef)

	second, err := ledger.Settle(
		testResult(2, consensus.OutcomeAccepted),
		testAllocation(50),
	)
	require.NoError(t, err)
	assert.Equal(t, int64(2), second.Seq)
	assert.NotEqual(t, first.TxRef, second.TxRef)

	// Checkpoint tracks the latest sequence
	checkpoint, err := ledger.db.Blob().GetCheckpoint()
	require.NoError(t, err)
	assert.Equal(t, int64(2), checkpoint)
}

func TestSettlePersistsShares(t *testing.T) {
	ledger := newTestLedger(t)
	result := testResult(1, consensus.OutcomeAccepted)

	alloc := reward.Allocation{
		Pool: 100,
		Shares: []reward.Share{
			{Recipient: "participant-1", Role: reward.RoleSubmitter, Amount: 70},
			{Recipient: "participant-2", Role: reward.RoleAncestor, Amount: 30, Depth: 1},
		},
	}
	_, err := ledger.Settle(result, alloc)
	require.NoError(t, err)

	shares, err := ledger.db.Metadata().GetRewardShares(
		result.Round.Artifact.Bytes(),
		nil,
	)
	require.NoError(t, err)
	require.Len(t, shares, 2)
	assert.Equal(t, uint64(70), shares[0].Amount)
	assert.Equal(t, "ancestor", shares[1].Role)
}

func TestSettleRejectedRound(t *testing.T) {
	ledger := newTestLedger(t)

	record, err := ledger.Settle(
		testResult(1, consensus.OutcomeRejected),
		reward.Allocation{},
	)
	require.NoError(t, err)
	assert.Equal(t, consensus.OutcomeRejected, record.Outcome)
	assert.Equal(t, uint64(0), record.PoolAmount)
}

func TestHistory(t *testing.T) {
	ledger := newTestLedger(t)
	for i := byte(1); i <= 3; i++ {
		_, err := ledger.Settle(
			testResult(i, consensus.OutcomeAccepted),
			testAllocation(uint64(i)*10),
		)
		require.NoError(t, err)
	}

	records, err := ledger.History(1)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, int64(2), records[0].Seq)
	assert.Equal(t, int64(3), records[1].Seq)
	assert.Equal(t, consensus.OutcomeAccepted, records[0].Outcome)
	assert.Equal(t, uint64(30), records[1].PoolAmount)
}

func TestRecover(t *testing.T) {
	ledger := newTestLedger(t)
	_, err := ledger.Settle(
		testResult(1, consensus.OutcomeAccepted),
		testAllocation(100),
	)
	require.NoError(t, err)

	// Nothing trailing when log and checkpoint agree
	trailing, err := ledger.Recover()
	require.NoError(t, err)
	assert.Empty(t, trailing)

	// Roll the checkpoint back to simulate a crash between the log commit
	// and the checkpoint write
	require.NoError(t, ledger.db.Blob().SetCheckpoint(0))
	trailing, err = ledger.Recover()
	require.NoError(t, err)
	require.Len(t, trailing, 1)
	assert.Equal(t, int64(1), trailing[0].Seq)

	checkpoint, err := ledger.db.Blob().GetCheckpoint()
	require.NoError(t, err)
	assert.Equal(t, int64(1), checkpoint)
}
