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

import "time"

// RootResponse is returned by GET /
type RootResponse struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// HealthResponse is returned by GET /health
type HealthResponse struct {
	IsHealthy bool `json:"is_healthy"`
}

// ErrorResponse is the error body for all endpoints
type ErrorResponse struct {
	StatusCode int    `json:"status_code"`
	Error      string `json:"error"`
	Message    string `json:"message"`
}

// ParentRefRequest names one declared parent of a submission
type ParentRefRequest struct {
	ID       string `json:"id"`
	Relation string `json:"relation"`
}

// SubmitArtifactRequest is the body for POST /v0/artifacts.
// Payload is base64-encoded.
type SubmitArtifactRequest struct {
	Submitter string             `json:"submitter"`
	Domain    string             `json:"domain"`
	Version   string             `json:"version"`
	Payload   string             `json:"payload"`
	Parents   []ParentRefRequest `json:"parents,omitempty"`
}

// SubmitArtifactResponse is returned by POST /v0/artifacts
type SubmitArtifactResponse struct {
	ID       string `json:"id"`
	Existing bool   `json:"existing"`
}

// ArtifactResponse represents a registered artifact
type ArtifactResponse struct {
	ID          string             `json:"id"`
	Submitter   string             `json:"submitter"`
	Domain      string             `json:"domain"`
	Version     string             `json:"version"`
	Status      string             `json:"status"`
	PayloadSize uint64             `json:"payload_size"`
	SubmittedAt time.Time          `json:"submitted_at"`
	ReviewedAt  *time.Time         `json:"reviewed_at,omitempty"`
	Parents     []ParentRefRequest `json:"parents,omitempty"`
}

// AncestorResponse is one entry in a lineage response
type AncestorResponse struct {
	ID    string `json:"id"`
	Depth uint   `json:"depth"`
}

// LineageResponse is returned by GET /v0/artifacts/{id}/lineage
type LineageResponse struct {
	Parents   []ParentRefRequest `json:"parents"`
	Children  []string           `json:"children"`
	Ancestors []AncestorResponse `json:"ancestors"`
}

// RoundResponse describes a consensus round
type RoundResponse struct {
	Artifact   string    `json:"artifact"`
	Seq        uint64    `json:"seq"`
	Submitter  string    `json:"submitter,omitempty"`
	Validators []string  `json:"validators,omitempty"`
	Votes      int       `json:"votes"`
	Deadline   time.Time `json:"deadline,omitzero"`
	Finalized  bool      `json:"finalized"`
}

// SubmitVoteRequest is the body for POST /v0/rounds/{id}/{seq}/votes
type SubmitVoteRequest struct {
	Validator string  `json:"validator"`
	Score     float64 `json:"score"`
	Accept    bool    `json:"accept"`
}

// ResultResponse describes a finalized round with its settlement
type ResultResponse struct {
	Artifact       string  `json:"artifact"`
	Seq            uint64  `json:"seq"`
	Outcome        string  `json:"outcome"`
	AcceptFraction float64 `json:"accept_fraction"`
	MeanScore      float64 `json:"mean_score"`
	SettlementSeq  int64   `json:"settlement_seq,omitempty"`
	TxRef          string  `json:"tx_ref,omitempty"`
}

// RegisterValidatorRequest is the body for POST /v0/validators
type RegisterValidatorRequest struct {
	ID      string   `json:"id"`
	Stake   uint64   `json:"stake"`
	Domains []string `json:"domains,omitempty"`
}

// ValidatorResponse describes a registered validator
type ValidatorResponse struct {
	ID         string   `json:"id"`
	Stake      uint64   `json:"stake"`
	Reputation float64  `json:"reputation"`
	Domains    []string `json:"domains,omitempty"`
}

// RewardShareResponse is one reward share for an artifact
type RewardShareResponse struct {
	Recipient string `json:"recipient"`
	Role      string `json:"role"`
	Amount    uint64 `json:"amount"`
	Depth     uint   `json:"depth"`
}

// ContributorResponse is one entry in the top-contributor ranking
type ContributorResponse struct {
	Recipient string `json:"recipient"`
	Total     uint64 `json:"total"`
}

// SettlementResponse is one settlement log entry
type SettlementResponse struct {
	Seq        int64     `json:"seq"`
	Artifact   string    `json:"artifact"`
	Outcome    string    `json:"outcome"`
	PoolAmount uint64    `json:"pool_amount"`
	TxRef      string    `json:"tx_ref"`
	SettledAt  time.Time `json:"settled_at"`
}
