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

package gateway

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parentheses-network/kex/artifact"
	"github.com/parentheses-network/kex/consensus"
	"github.com/parentheses-network/kex/database"
	"github.com/parentheses-network/kex/exchange"
	"github.com/parentheses-network/kex/lineage"
	"github.com/parentheses-network/kex/reward"
	"github.com/parentheses-network/kex/settlement"
	"github.com/parentheses-network/kex/validator"
)

type testServer struct {
	gateway *Gateway
	mux     http.Handler
}

func newTestServer(t *testing.T) *testServer {
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
	xchg := exchange.New(exchange.ExchangeConfig{
		PromRegistry: prometheus.NewRegistry(),
		Registry:     registry,
		Graph:        graph,
		Engine:       engine,
		Calculator:   calculator,
		Ledger:       ledger,
	})
	gw := New(GatewayConfig{
		Database: db,
		Registry: registry,
		Graph:    graph,
		Pool:     pool,
		Engine:   engine,
		Exchange: xchg,
		Ledger:   ledger,
	})
	return &testServer{gateway: gw, mux: gw.routes()}
}

func (s *testServer) do(
	t *testing.T,
	method string,
	path string,
	body any,
	out any,
) int {
	t.Helper()
	var reqBody *bytes.Buffer
	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		reqBody = bytes.NewBuffer(encoded)
	} else {
		reqBody = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, reqBody)
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)
	if out != nil && rec.Code < 300 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out))
	}
	return rec.Code
}

func (s *testServer) registerValidators(t *testing.T, count int) {
	t.Helper()
	for i := range count {
		code := s.do(t, "POST", "/v0/validators", RegisterValidatorRequest{
			ID:    fmt.Sprintf("validator-%d", i),
			Stake: 1000,
		}, nil)
		require.Equal(t, http.StatusCreated, code)
	}
}

func (s *testServer) submitArtifact(
	t *testing.T,
	seed string,
	parents ...ParentRefRequest,
) string {
	t.Helper()
	var resp SubmitArtifactResponse
	code := s.do(t, "POST", "/v0/artifacts", SubmitArtifactRequest{
		Submitter: "participant-1",
		Domain:    "vision",
		Version:   "1.0.0",
		Payload:   base64.StdEncoding.EncodeToString([]byte(seed)),
		Parents:   parents,
	}, &resp)
	require.Equal(t, http.StatusCreated, code)
	return resp.ID
}

func TestHealthAndRoot(t *testing.T) {
	s := newTestServer(t)
	var health HealthResponse
	code := s.do(t, "GET", "/health", nil, &health)
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, health.IsHealthy)

	var root RootResponse
	code = s.do(t, "GET", "/", nil, &root)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "kex", root.Name)
}

func TestSubmitAndGetArtifact(t *testing.T) {
	s := newTestServer(t)
	id := s.submitArtifact(t, "payload")

	var art ArtifactResponse
	code := s.do(t, "GET", "/v0/artifacts/"+id, nil, &art)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, id, art.ID)
	assert.Equal(t, "pending", art.Status)
	assert.Equal(t, uint64(7), art.PayloadSize)

	// Resubmission returns 200 with existing set
	var resp SubmitArtifactResponse
	code = s.do(t, "POST", "/v0/artifacts", SubmitArtifactRequest{
		Submitter: "participant-1",
		Domain:    "vision",
		Version:   "1.0.0",
		Payload:   base64.StdEncoding.EncodeToString([]byte("payload")),
	}, &resp)
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, resp.Existing)

	// Unknown artifact
	var missing artifact.ArtifactID
	code = s.do(
		t,
		"GET",
		"/v0/artifacts/"+missing.String(),
		nil,
		nil,
	)
	assert.Equal(t, http.StatusNotFound, code)

	// Bad ID
	code = s.do(t, "GET", "/v0/artifacts/nothex", nil, nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestSubmitArtifactValidation(t *testing.T) {
	s := newTestServer(t)
	code := s.do(t, "POST", "/v0/artifacts", SubmitArtifactRequest{
		Submitter: "participant-1",
		Domain:    "vision",
		Version:   "v1.0.0",
		Payload:   base64.StdEncoding.EncodeToString([]byte("payload")),
	}, nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code = s.do(t, "POST", "/v0/artifacts", SubmitArtifactRequest{
		Submitter: "participant-1",
		Domain:    "vision",
		Version:   "1.0.0",
		Payload:   "not base64!",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestGetPayload(t *testing.T) {
	s := newTestServer(t)
	id := s.submitArtifact(t, "raw bytes")

	req := httptest.NewRequest(
		"GET",
		"/v0/artifacts/"+id+"/payload",
		nil,
	)
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(
		t,
		"application/octet-stream",
		rec.Header().Get("Content-Type"),
	)
	assert.Equal(t, "raw bytes", rec.Body.String())
}

func TestLineageEndpoint(t *testing.T) {
	s := newTestServer(t)
	parent := s.submitArtifact(t, "parent")
	child := s.submitArtifact(t, "child", ParentRefRequest{
		ID:       parent,
		Relation: "derived_from",
	})

	var ret LineageResponse
	code := s.do(
		t,
		"GET",
		"/v0/artifacts/"+child+"/lineage",
		nil,
		&ret,
	)
	assert.Equal(t, http.StatusOK, code)
	require.Len(t, ret.Parents, 1)
	assert.Equal(t, parent, ret.Parents[0].ID)
	require.Len(t, ret.Ancestors, 1)
	assert.Equal(t, uint(1), ret.Ancestors[0].Depth)

	code = s.do(
		t,
		"GET",
		"/v0/artifacts/"+parent+"/lineage",
		nil,
		&ret,
	)
	assert.Equal(t, http.StatusOK, code)
	require.Len(t, ret.Children, 1)
	assert.Equal(t, child, ret.Children[0])
}

func TestListArtifacts(t *testing.T) {
	s := newTestServer(t)
	s.submitArtifact(t, "one")
	s.submitArtifact(t, "two")

	var ret []ArtifactResponse
	code := s.do(t, "GET", "/v0/artifacts?status=pending", nil, &ret)
	assert.Equal(t, http.StatusOK, code)
	assert.Len(t, ret, 2)

	code = s.do(t, "GET", "/v0/artifacts?domain=vision", nil, &ret)
	assert.Equal(t, http.StatusOK, code)
	assert.Len(t, ret, 2)

	code = s.do(t, "GET", "/v0/artifacts?domain=speech", nil, &ret)
	assert.Equal(t, http.StatusOK, code)
	assert.Empty(t, ret)

	// Pagination
	code = s.do(t, "GET", "/v0/artifacts?count=1&page=2", nil, &ret)
	assert.Equal(t, http.StatusOK, code)
	assert.Len(t, ret, 1)

	code = s.do(t, "GET", "/v0/artifacts?status=bogus", nil, nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestVotingFlow(t *testing.T) {
	s := newTestServer(t)
	s.registerValidators(t, 5)
	id := s.submitArtifact(t, "candidate")

	var round RoundResponse
	code := s.do(
		t,
		"POST",
		"/v0/artifacts/"+id+"/rounds",
		nil,
		&round,
	)
	require.Equal(t, http.StatusCreated, code)
	require.Len(t, round.Validators, 3)

	roundPath := fmt.Sprintf("/v0/rounds/%s/%d", id, round.Seq)
	for _, validatorId := range round.Validators {
		code = s.do(t, "POST", roundPath+"/votes", SubmitVoteRequest{
			Validator: validatorId,
			Score:     0.9,
			Accept:    true,
		}, &round)
		require.Equal(t, http.StatusOK, code)
	}
	assert.Equal(t, 3, round.Votes)

	// Duplicate vote conflicts
	code = s.do(t, "POST", roundPath+"/votes", SubmitVoteRequest{
		Validator: round.Validators[0],
		Score:     0.9,
		Accept:    true,
	}, nil)
	assert.Equal(t, http.StatusConflict, code)

	// Outside voter is forbidden
	code = s.do(t, "POST", roundPath+"/votes", SubmitVoteRequest{
		Validator: "validator-outsider",
		Score:     0.9,
		Accept:    true,
	}, nil)
	assert.Equal(t, http.StatusForbidden, code)

	var result ResultResponse
	code = s.do(t, "POST", roundPath+"/finalize", nil, &result)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "accepted", result.Outcome)
	assert.Equal(t, int64(1), result.SettlementSeq)
	assert.NotEmpty(t, result.TxRef)

	// Artifact reflects the outcome
	var art ArtifactResponse
	code = s.do(t, "GET", "/v0/artifacts/"+id, nil, &art)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "accepted", art.Status)

	// Rewards and settlement log are populated
	var shares []RewardShareResponse
	code = s.do(
		t,
		"GET",
		"/v0/artifacts/"+id+"/rewards",
		nil,
		&shares,
	)
	assert.Equal(t, http.StatusOK, code)
	require.Len(t, shares, 1)
	assert.Equal(t, "participant-1", shares[0].Recipient)

	var settlements []SettlementResponse
	code = s.do(t, "GET", "/v0/settlements", nil, &settlements)
	assert.Equal(t, http.StatusOK, code)
	require.Len(t, settlements, 1)
	assert.Equal(t, id, settlements[0].Artifact)

	var contributors []ContributorResponse
	code = s.do(t, "GET", "/v0/contributors", nil, &contributors)
	assert.Equal(t, http.StatusOK, code)
	require.Len(t, contributors, 1)
	assert.Equal(t, "participant-1", contributors[0].Recipient)
}

func TestOpenRoundWithoutQuorumConflicts(t *testing.T) {
	s := newTestServer(t)
	id := s.submitArtifact(t, "lonely")
	code := s.do(t, "POST", "/v0/artifacts/"+id+"/rounds", nil, nil)
	assert.Equal(t, http.StatusConflict, code)
}

func TestValidatorEndpoints(t *testing.T) {
	s := newTestServer(t)
	s.registerValidators(t, 2)

	var validators []ValidatorResponse
	code := s.do(t, "GET", "/v0/validators", nil, &validators)
	assert.Equal(t, http.StatusOK, code)
	assert.Len(t, validators, 2)

	// Duplicate registration conflicts
	code = s.do(t, "POST", "/v0/validators", RegisterValidatorRequest{
		ID:    "validator-0",
		Stake: 1000,
	}, nil)
	assert.Equal(t, http.StatusConflict, code)

	code = s.do(t, "DELETE", "/v0/validators/validator-0", nil, nil)
	assert.Equal(t, http.StatusNoContent, code)

	code = s.do(t, "DELETE", "/v0/validators/validator-0", nil, nil)
	assert.Equal(t, http.StatusNotFound, code)

	code = s.do(t, "GET", "/v0/validators", nil, &validators)
	assert.Equal(t, http.StatusOK, code)
	assert.Len(t, validators, 1)
}
