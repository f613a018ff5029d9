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

package sqlite

import (
	"crypto/sha256"
	"testing"
	"time"

	"github.com/parentheses-network/kex/database/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T) *MetadataStoreSqlite {
	t.Helper()
	store, err := New(t.TempDir(), nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

func testArtifactId(seed string) []byte {
	digest := sha256.Sum256([]byte(seed))
	return digest[:]
}

func TestArtifactRoundTrip(t *testing.T) {
	store := testStore(t)

	artifactId := testArtifactId("artifact-1")
	err := store.AddArtifact(&models.Artifact{
		ArtifactID:  artifactId,
		Submitter:   "participant-1",
		Domain:      "vision",
		Version:     "1.0.0",
		Status:      "pending",
		PayloadSize: 1234,
		SubmittedAt: time.Now(),
	}, nil)
	require.NoError(t, err)

	artifact, err := store.GetArtifact(artifactId, nil)
	require.NoError(t, err)
	require.NotNil(t, artifact)
	assert.Equal(t, "vision", artifact.Domain)
	assert.Equal(t, "pending", artifact.Status)
	assert.Nil(t, artifact.ReviewedAt)

	require.NoError(t, store.SetArtifactStatus(artifactId, "accepted", nil))
	artifact, err = store.GetArtifact(artifactId, nil)
	require.NoError(t, err)
	require.NotNil(t, artifact)
	assert.Equal(t, "accepted", artifact.Status)
	assert.NotNil(t, artifact.ReviewedAt)
}

func TestArtifactNotFound(t *testing.T) {
	store := testStore(t)

	artifact, err := store.GetArtifact(testArtifactId("missing"), nil)
	require.NoError(t, err)
	assert.Nil(t, artifact)
}

func TestArtifactQueries(t *testing.T) {
	store := testStore(t)

	base := time.Now()
	for i, item := range []struct {
		seed      string
		submitter string
		domain    string
		status    string
	}{
		{"a", "participant-1", "vision", "pending"},
		{"b", "participant-1", "language", "accepted"},
		{"c", "participant-2", "vision", "pending"},
	} {
		err := store.AddArtifact(&models.Artifact{
			ArtifactID:  testArtifactId(item.seed),
			Submitter:   item.submitter,
			Domain:      item.domain,
			Version:     "1.0.0",
			Status:      item.status,
			SubmittedAt: base.Add(time.Duration(i) * time.Second),
		}, nil)
		require.NoError(t, err)
	}

	pending, err := store.GetArtifactsByStatus("pending", nil)
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	vision, err := store.GetArtifactsByDomain("vision", nil)
	require.NoError(t, err)
	assert.Len(t, vision, 2)

	mine, err := store.GetArtifactsBySubmitter("participant-1", nil)
	require.NoError(t, err)
	assert.Len(t, mine, 2)
}

func TestLineageEdges(t *testing.T) {
	store := testStore(t)

	child := testArtifactId("child")
	parentA := testArtifactId("parent-a")
	parentB := testArtifactId("parent-b")
	err := store.AddLineageEdges([]models.LineageEdge{
		{ChildID: child, ParentID: parentA, Relation: "derived_from"},
		{ChildID: child, ParentID: parentB, Relation: "ensembles"},
	}, nil)
	require.NoError(t, err)

	parents, err := store.GetParentEdges(child, nil)
	require.NoError(t, err)
	assert.Len(t, parents, 2)

	children, err := store.GetChildEdges(parentA, nil)
	require.NoError(t, err)
	require.Len(t, children, 1)
	assert.Equal(t, child, children[0].ChildID)
}

func TestValidatorUpsert(t *testing.T) {
	store := testStore(t)

	err := store.UpsertValidator(&models.Validator{
		ValidatorID:  "validator-1",
		Stake:        5000,
		Reputation:   0.5,
		Active:       true,
		RegisteredAt: time.Now(),
	}, nil)
	require.NoError(t, err)

	// Replace stake and reputation for the same identity
	err = store.UpsertValidator(&models.Validator{
		ValidatorID: "validator-1",
		Stake:       7500,
		Reputation:  0.62,
		Active:      true,
	}, nil)
	require.NoError(t, err)

	validator, err := store.GetValidator("validator-1", nil)
	require.NoError(t, err)
	require.NotNil(t, validator)
	assert.Equal(t, uint64(7500), validator.Stake)
	assert.InDelta(t, 0.62, validator.Reputation, 0.0001)

	validators, err := store.GetValidators(true, nil)
	require.NoError(t, err)
	assert.Len(t, validators, 1)
}

func TestConsensusRoundArchive(t *testing.T) {
	store := testStore(t)

	artifactId := testArtifactId("artifact-round")
	err := store.AddConsensusRound(&models.ConsensusRound{
		ArtifactID:     artifactId,
		Seq:            1,
		Outcome:        "accepted",
		AcceptFraction: 1.0,
		MeanScore:      0.85,
		// Weights are stake scaled by reputation, so fractional values
		// must survive the round trip
		TotalWeight: 1125.5,
		OpenedAt:    time.Now().Add(-time.Minute),
		ClosedAt:    time.Now(),
		Votes: []models.RoundVote{
			{ValidatorID: "validator-1", Accept: true, Score: 0.9, Weight: 625.25},
			{ValidatorID: "validator-2", Accept: true, Score: 0.8, Weight: 500.25},
		},
	}, nil)
	require.NoError(t, err)

	rounds, err := store.GetConsensusRounds(artifactId, nil)
	require.NoError(t, err)
	require.Len(t, rounds, 1)
	assert.Equal(t, "accepted", rounds[0].Outcome)
	assert.InDelta(t, 1125.5, rounds[0].TotalWeight, 0.0001)
	require.Len(t, rounds[0].Votes, 2)
	assert.InDelta(t, 625.25, rounds[0].Votes[0].Weight, 0.0001)
}

func TestRewardTotals(t *testing.T) {
	store := testStore(t)

	err := store.AddRewardShares([]models.RewardShare{
		{ArtifactID: testArtifactId("a"), Recipient: "participant-1", Role: "submitter", Amount: 70},
		{ArtifactID: testArtifactId("a"), Recipient: "participant-2", Role: "ancestor", Amount: 30, Depth: 1},
		{ArtifactID: testArtifactId("b"), Recipient: "participant-2", Role: "submitter", Amount: 90},
	}, nil)
	require.NoError(t, err)

	totals, err := store.GetRewardTotals(0, nil)
	require.NoError(t, err)
	require.Len(t, totals, 2)
	assert.Equal(t, "participant-2", totals[0].Recipient)
	assert.Equal(t, uint64(120), totals[0].Total)

	top, err := store.GetRewardTotals(1, nil)
	require.NoError(t, err)
	assert.Len(t, top, 1)
}

func TestSettlementLog(t *testing.T) {
	store := testStore(t)

	maxSeq, err := store.GetMaxSettlementSeq(nil)
	require.NoError(t, err)
	assert.Equal(t, int64(0), maxSeq)

	for seq := int64(1); seq <= 3; seq++ {
		err := store.AddSettlement(&models.Settlement{
			Seq:        seq,
			ArtifactID: testArtifactId("artifact-settle"),
			Outcome:    "accepted",
			PoolAmount: 100,
			SettledAt:  time.Now(),
		}, nil)
		require.NoError(t, err)
	}

	maxSeq, err = store.GetMaxSettlementSeq(nil)
	require.NoError(t, err)
	assert.Equal(t, int64(3), maxSeq)

	entries, err := store.GetSettlementsAfter(1, nil)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, int64(2), entries[0].Seq)
}

func TestTransactionRollback(t *testing.T) {
	store := testStore(t)

	txn := store.Transaction()
	err := store.AddArtifact(&models.Artifact{
		ArtifactID:  testArtifactId("rollback"),
		Submitter:   "participant-1",
		Domain:      "vision",
		Version:     "1.0.0",
		Status:      "pending",
		SubmittedAt: time.Now(),
	}, txn)
	require.NoError(t, err)
	require.NoError(t, txn.Rollback().Error)

	artifact, err := store.GetArtifact(testArtifactId("rollback"), nil)
	require.NoError(t, err)
	assert.Nil(t, artifact)
}
