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

package validator

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parentheses-network/kex/database"
)

func testPool(t *testing.T, minStake uint64) *Pool {
	t.Helper()
	db, err := database.New(database.Config{DataDir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() {
		db.Close()
	})
	pool, err := NewPool(PoolConfig{
		Database:     db,
		PromRegistry: prometheus.NewRegistry(),
		MinimumStake: minStake,
	})
	require.NoError(t, err)
	return pool
}

func TestRegisterAndGet(t *testing.T) {
	pool := testPool(t, 1000)

	require.NoError(t, pool.Register("validator-1", 5000, nil))

	v, err := pool.Get("validator-1")
	require.NoError(t, err)
	assert.Equal(t, uint64(5000), v.Stake)
	assert.InDelta(t, InitialReputation, v.Reputation, 0.0001)
	assert.InDelta(t, 2500.0, v.Weight(), 0.0001)

	_, err = pool.Get("validator-2")
	assert.ErrorIs(t, err, ErrNotRegistered)
}

func TestRegisterValidation(t *testing.T) {
	pool := testPool(t, 1000)

	err := pool.Register("validator-1", 999, nil)
	var insufficient *InsufficientStakeError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, uint64(1000), insufficient.Minimum)

	require.NoError(t, pool.Register("validator-1", 1000, nil))
	assert.ErrorIs(
		t,
		pool.Register("validator-1", 2000, nil),
		ErrAlreadyRegistered,
	)
}

func TestDeregister(t *testing.T) {
	pool := testPool(t, 0)

	require.NoError(t, pool.Register("validator-1", 100, nil))
	require.NoError(t, pool.Deregister("validator-1"))
	assert.ErrorIs(t, pool.Deregister("validator-1"), ErrNotRegistered)
}

func TestDeregisterStakeHeld(t *testing.T) {
	pool := testPool(t, 0)

	require.NoError(t, pool.Register("validator-1", 100, nil))
	require.NoError(t, pool.Hold("validator-1"))

	assert.ErrorIs(t, pool.Deregister("validator-1"), ErrStakeHeld)

	pool.Release("validator-1")
	assert.NoError(t, pool.Deregister("validator-1"))
}

func TestEligibleOrdering(t *testing.T) {
	pool := testPool(t, 0)

	for _, id := range []string{"charlie", "alice", "bob"} {
		require.NoError(t, pool.Register(id, 100, nil))
	}

	eligible := pool.Eligible("")
	require.Len(t, eligible, 3)
	assert.Equal(t, "alice", eligible[0].ID)
	assert.Equal(t, "bob", eligible[1].ID)
	assert.Equal(t, "charlie", eligible[2].ID)
}

func TestEligibleDomainFilter(t *testing.T) {
	pool := testPool(t, 0)

	require.NoError(
		t,
		pool.Register("specialist", 100, []string{"vision", "speech"}),
	)
	require.NoError(t, pool.Register("generalist", 100, nil))

	vision := pool.Eligible("vision")
	require.Len(t, vision, 2)

	language := pool.Eligible("language")
	require.Len(t, language, 1)
	assert.Equal(t, "generalist", language[0].ID)

	all := pool.Eligible("")
	assert.Len(t, all, 2)
}

func TestUpdateReputation(t *testing.T) {
	pool := testPool(t, 0)
	require.NoError(t, pool.Register("validator-1", 100, nil))

	// One agreeing round moves reputation toward 1 by one EMA step
	require.NoError(t, pool.UpdateReputation("validator-1", true))
	v, err := pool.Get("validator-1")
	require.NoError(t, err)
	assert.InDelta(t, 0.55, v.Reputation, 0.0001)

	// Disagreement moves it back down
	require.NoError(t, pool.UpdateReputation("validator-1", false))
	v, err = pool.Get("validator-1")
	require.NoError(t, err)
	assert.InDelta(t, 0.495, v.Reputation, 0.0001)

	// Repeated agreement converges toward but never exceeds 1
	for range 200 {
		require.NoError(t, pool.UpdateReputation("validator-1", true))
	}
	v, err = pool.Get("validator-1")
	require.NoError(t, err)
	assert.LessOrEqual(t, v.Reputation, 1.0)
	assert.Greater(t, v.Reputation, 0.99)

	assert.ErrorIs(
		t,
		pool.UpdateReputation("validator-2", true),
		ErrNotRegistered,
	)
}

func TestPoolReload(t *testing.T) {
	dataDir := t.TempDir()
	db, err := database.New(database.Config{DataDir: dataDir})
	require.NoError(t, err)

	pool, err := NewPool(PoolConfig{
		Database:     db,
		PromRegistry: prometheus.NewRegistry(),
	})
	require.NoError(t, err)
	require.NoError(
		t,
		pool.Register("validator-1", 5000, []string{"vision"}),
	)
	require.NoError(t, pool.UpdateReputation("validator-1", true))
	require.NoError(t, pool.Register("validator-2", 1000, nil))
	require.NoError(t, pool.Deregister("validator-2"))
	require.NoError(t, db.Close())

	// Reopen: active validators come back with their reputation,
	// deregistered ones do not
	db, err = database.New(database.Config{DataDir: dataDir})
	require.NoError(t, err)
	defer db.Close()

	pool, err = NewPool(PoolConfig{
		Database:     db,
		PromRegistry: prometheus.NewRegistry(),
	})
	require.NoError(t, err)

	eligible := pool.Eligible("")
	require.Len(t, eligible, 1)
	assert.Equal(t, "validator-1", eligible[0].ID)
	assert.InDelta(t, 0.55, eligible[0].Reputation, 0.0001)
	assert.Equal(t, []string{"vision"}, eligible[0].Domains)
}
