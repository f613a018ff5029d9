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
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/parentheses-network/kex/artifact"
	"github.com/parentheses-network/kex/consensus"
	"github.com/parentheses-network/kex/lineage"
	"github.com/parentheses-network/kex/validator"
)

const apiVersion = "0.1.0"

// writeJSON writes a JSON response with the given status code
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	//nolint:errcheck,errchkjson
	json.NewEncoder(w).Encode(v)
}

// writeError writes an error response
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{
		StatusCode: status,
		Error:      http.StatusText(status),
		Message:    message,
	})
}

// writeDomainError maps protocol errors onto HTTP status codes
func writeDomainError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var illegal *artifact.IllegalTransitionError
	var payloadTooLarge *artifact.PayloadTooLargeError
	var dangling *lineage.DanglingParentError
	var insufficientValidators *consensus.InsufficientValidatorsError
	var insufficientStake *validator.InsufficientStakeError
	var quorum *consensus.QuorumNotMetError
	switch {
	case errors.Is(err, artifact.ErrNotFound),
		errors.Is(err, consensus.ErrRoundNotFound),
		errors.Is(err, validator.ErrNotRegistered):
		status = http.StatusNotFound
	case errors.Is(err, artifact.ErrInvalidSubmitter),
		errors.Is(err, artifact.ErrInvalidDomain),
		errors.Is(err, artifact.ErrInvalidVersion),
		errors.Is(err, artifact.ErrInvalidPayload),
		errors.Is(err, artifact.ErrInvalidRelation),
		errors.Is(err, artifact.ErrDuplicateParent),
		errors.Is(err, consensus.ErrInvalidScore),
		errors.As(err, &payloadTooLarge),
		errors.As(err, &dangling),
		errors.As(err, &insufficientStake):
		status = http.StatusBadRequest
	case errors.Is(err, consensus.ErrUnauthorizedVoter):
		status = http.StatusForbidden
	case errors.Is(err, consensus.ErrDuplicateVote),
		errors.Is(err, consensus.ErrRoundClosed),
		errors.Is(err, validator.ErrAlreadyRegistered),
		errors.Is(err, validator.ErrStakeHeld),
		errors.Is(err, lineage.ErrCyclicLineage),
		errors.As(err, &illegal),
		errors.As(err, &insufficientValidators),
		errors.As(err, &quorum):
		status = http.StatusConflict
	case errors.Is(err, consensus.ErrRoundExpired):
		status = http.StatusGone
	}
	writeError(w, status, err.Error())
}

func (g *Gateway) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, RootResponse{
		Name:    "kex",
		Version: apiVersion,
	})
}

func (g *Gateway) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		IsHealthy: true,
	})
}

// parseArtifactID parses the {id} path segment
func parseArtifactID(r *http.Request) (artifact.ArtifactID, error) {
	return artifact.ParseArtifactID(r.PathValue("id"))
}

// parseRoundID parses the {id}/{seq} path segments
func parseRoundID(r *http.Request) (consensus.RoundID, error) {
	id, err := parseArtifactID(r)
	if err != nil {
		return consensus.RoundID{}, err
	}
	seq, err := strconv.ParseUint(r.PathValue("seq"), 10, 64)
	if err != nil {
		return consensus.RoundID{}, err
	}
	return consensus.RoundID{Artifact: id, Seq: seq}, nil
}

func artifactToResponse(art *artifact.Artifact) ArtifactResponse {
	ret := ArtifactResponse{
		ID:          art.ID.String(),
		Submitter:   art.Submitter,
		Domain:      art.Domain,
		Version:     art.Version,
		Status:      art.Status.String(),
		PayloadSize: art.PayloadSize,
		SubmittedAt: art.SubmittedAt,
		ReviewedAt:  art.ReviewedAt,
	}
	for _, parent := range art.Parents {
		ret.Parents = append(ret.Parents, ParentRefRequest{
			ID:       parent.ID.String(),
			Relation: string(parent.Relation),
		})
	}
	return ret
}

func (g *Gateway) handleSubmitArtifact(
	w http.ResponseWriter,
	r *http.Request,
) {
	var req SubmitArtifactRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	payload, err := base64.StdEncoding.DecodeString(req.Payload)
	if err != nil {
		writeError(
			w,
			http.StatusBadRequest,
			"payload must be base64-encoded",
		)
		return
	}
	sub := artifact.Submission{
		Submitter: req.Submitter,
		Domain:    req.Domain,
		Version:   req.Version,
		Payload:   payload,
	}
	for _, parent := range req.Parents {
		parentId, err := artifact.ParseArtifactID(parent.ID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid parent id")
			return
		}
		sub.Parents = append(sub.Parents, artifact.ParentRef{
			ID:       parentId,
			Relation: artifact.Relation(parent.Relation),
		})
	}
	id, existing, err := g.config.Exchange.SubmitKnowledge(sub)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	status := http.StatusCreated
	if existing {
		status = http.StatusOK
	}
	writeJSON(w, status, SubmitArtifactResponse{
		ID:       id.String(),
		Existing: existing,
	})
}

func (g *Gateway) handleListArtifacts(
	w http.ResponseWriter,
	r *http.Request,
) {
	params, err := ParsePagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	query := r.URL.Query()
	var items []*artifact.Artifact
	switch {
	case query.Get("domain") != "":
		items, err = g.config.Registry.ListByDomain(query.Get("domain"))
	case query.Get("submitter") != "":
		items, err = g.config.Registry.ListBySubmitter(
			query.Get("submitter"),
		)
	default:
		statusFilter := query.Get("status")
		if statusFilter == "" {
			statusFilter = artifact.StatusPending.String()
		}
		status, serr := artifact.StatusFromString(statusFilter)
		if serr != nil {
			writeError(w, http.StatusBadRequest, "unknown status")
			return
		}
		items, err = g.config.Registry.ListByStatus(status)
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}
	// Secondary status filter for domain/submitter queries
	if statusFilter := query.Get("status"); statusFilter != "" {
		status, serr := artifact.StatusFromString(statusFilter)
		if serr != nil {
			writeError(w, http.StatusBadRequest, "unknown status")
			return
		}
		filtered := items[:0]
		for _, item := range items {
			if item.Status == status {
				filtered = append(filtered, item)
			}
		}
		items = filtered
	}
	ret := make([]ArtifactResponse, 0, len(items))
	for _, item := range items {
		ret = append(ret, artifactToResponse(item))
	}
	writeJSON(w, http.StatusOK, paginate(ret, params))
}

func (g *Gateway) handleGetArtifact(
	w http.ResponseWriter,
	r *http.Request,
) {
	id, err := parseArtifactID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid artifact id")
		return
	}
	art, err := g.config.Registry.Get(id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, artifactToResponse(art))
}

func (g *Gateway) handleGetPayload(
	w http.ResponseWriter,
	r *http.Request,
) {
	id, err := parseArtifactID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid artifact id")
		return
	}
	payload, err := g.config.Registry.GetPayload(id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	//nolint:errcheck
	w.Write(payload)
}

func (g *Gateway) handleGetLineage(
	w http.ResponseWriter,
	r *http.Request,
) {
	id, err := parseArtifactID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid artifact id")
		return
	}
	if _, err := g.config.Registry.Get(id); err != nil {
		writeDomainError(w, err)
		return
	}
	parents, err := g.config.Graph.ParentsOf(id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	children, err := g.config.Graph.ChildrenOf(id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	ancestors, err := g.config.Graph.AncestorsOf(id, 0)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	ret := LineageResponse{
		Parents:   []ParentRefRequest{},
		Children:  []string{},
		Ancestors: []AncestorResponse{},
	}
	for _, parent := range parents {
		ret.Parents = append(ret.Parents, ParentRefRequest{
			ID:       parent.ID.String(),
			Relation: string(parent.Relation),
		})
	}
	for _, child := range children {
		ret.Children = append(ret.Children, child.String())
	}
	for _, ancestor := range ancestors {
		ret.Ancestors = append(ret.Ancestors, AncestorResponse{
			ID:    ancestor.ID.String(),
			Depth: ancestor.Depth,
		})
	}
	writeJSON(w, http.StatusOK, ret)
}

func (g *Gateway) handleGetRewards(
	w http.ResponseWriter,
	r *http.Request,
) {
	id, err := parseArtifactID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid artifact id")
		return
	}
	shares, err := g.config.Database.Metadata().GetRewardShares(
		id.Bytes(),
		nil,
	)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	ret := make([]RewardShareResponse, 0, len(shares))
	for _, share := range shares {
		ret = append(ret, RewardShareResponse{
			Recipient: share.Recipient,
			Role:      share.Role,
			Amount:    share.Amount,
			Depth:     share.Depth,
		})
	}
	writeJSON(w, http.StatusOK, ret)
}

func roundInfoToResponse(info consensus.RoundInfo) RoundResponse {
	return RoundResponse{
		Artifact:   info.Round.Artifact.String(),
		Seq:        info.Round.Seq,
		Submitter:  info.Submitter,
		Validators: info.Validators,
		Votes:      info.Votes,
		Deadline:   info.Deadline,
		Finalized:  info.Finalized,
	}
}

func (g *Gateway) handleOpenRound(
	w http.ResponseWriter,
	r *http.Request,
) {
	id, err := parseArtifactID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid artifact id")
		return
	}
	info, err := g.config.Engine.OpenRound(id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, roundInfoToResponse(info))
}

func (g *Gateway) handleGetRound(
	w http.ResponseWriter,
	r *http.Request,
) {
	roundId, err := parseRoundID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid round id")
		return
	}
	info, err := g.config.Engine.GetRoundInfo(roundId)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, roundInfoToResponse(info))
}

func (g *Gateway) handleSubmitVote(
	w http.ResponseWriter,
	r *http.Request,
) {
	roundId, err := parseRoundID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid round id")
		return
	}
	var req SubmitVoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	err = g.config.Engine.SubmitVote(
		roundId,
		req.Validator,
		req.Score,
		req.Accept,
	)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	info, err := g.config.Engine.GetRoundInfo(roundId)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, roundInfoToResponse(info))
}

func (g *Gateway) handleFinalizeRound(
	w http.ResponseWriter,
	r *http.Request,
) {
	roundId, err := parseRoundID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid round id")
		return
	}
	result, record, err := g.config.Exchange.FinalizeAndSettle(roundId)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ResultResponse{
		Artifact:       result.Round.Artifact.String(),
		Seq:            result.Round.Seq,
		Outcome:        result.Outcome.String(),
		AcceptFraction: result.AcceptFraction,
		MeanScore:      result.MeanScore,
		SettlementSeq:  record.Seq,
		TxRef:          record.TxRef,
	})
}

func (g *Gateway) handleListValidators(
	w http.ResponseWriter,
	r *http.Request,
) {
	validators := g.config.Pool.Eligible(r.URL.Query().Get("domain"))
	ret := make([]ValidatorResponse, 0, len(validators))
	for _, v := range validators {
		ret = append(ret, ValidatorResponse{
			ID:         v.ID,
			Stake:      v.Stake,
			Reputation: v.Reputation,
			Domains:    v.Domains,
		})
	}
	writeJSON(w, http.StatusOK, ret)
}

func (g *Gateway) handleRegisterValidator(
	w http.ResponseWriter,
	r *http.Request,
) {
	var req RegisterValidatorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	err := g.config.Pool.Register(req.ID, req.Stake, req.Domains)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	v, err := g.config.Pool.Get(req.ID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ValidatorResponse{
		ID:         v.ID,
		Stake:      v.Stake,
		Reputation: v.Reputation,
		Domains:    v.Domains,
	})
}

func (g *Gateway) handleDeregisterValidator(
	w http.ResponseWriter,
	r *http.Request,
) {
	if err := g.config.Pool.Deregister(r.PathValue("id")); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (g *Gateway) handleTopContributors(
	w http.ResponseWriter,
	r *http.Request,
) {
	limit := 10
	if limitParam := r.URL.Query().Get("limit"); limitParam != "" {
		parsed, err := strconv.Atoi(limitParam)
		if err != nil || parsed < 1 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = parsed
	}
	totals, err := g.config.Database.Metadata().GetRewardTotals(limit, nil)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	ret := make([]ContributorResponse, 0, len(totals))
	for _, total := range totals {
		ret = append(ret, ContributorResponse{
			Recipient: total.Recipient,
			Total:     total.Total,
		})
	}
	writeJSON(w, http.StatusOK, ret)
}

func (g *Gateway) handleListSettlements(
	w http.ResponseWriter,
	r *http.Request,
) {
	afterSeq := int64(0)
	if afterParam := r.URL.Query().Get("after"); afterParam != "" {
		parsed, err := strconv.ParseInt(afterParam, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid after")
			return
		}
		afterSeq = parsed
	}
	records, err := g.config.Ledger.History(afterSeq)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	ret := make([]SettlementResponse, 0, len(records))
	for _, record := range records {
		ret = append(ret, SettlementResponse{
			Seq:        record.Seq,
			Artifact:   record.Artifact.String(),
			Outcome:    record.Outcome.String(),
			PoolAmount: record.PoolAmount,
			TxRef:      record.TxRef,
			SettledAt:  record.SettledAt,
		})
	}
	writeJSON(w, http.StatusOK, ret)
}
