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

// Package consensus runs validation rounds over pending artifacts. A round
// samples eligible validators deterministically, collects weighted votes
// until quorum or deadline, and finalizes into an accept or reject outcome
// that drives the artifact's status and validator reputations.
package consensus

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/parentheses-network/kex/artifact"
	"github.com/parentheses-network/kex/database"
	"github.com/parentheses-network/kex/database/models"
	"github.com/parentheses-network/kex/event"
	"github.com/parentheses-network/kex/validator"
)

const (
	RoundOpenedEventType    event.EventType = "consensus.round_opened"
	VoteSubmittedEventType  event.EventType = "consensus.vote_submitted"
	RoundFinalizedEventType event.EventType = "consensus.round_finalized"
	RoundAbortedEventType   event.EventType = "consensus.round_aborted"

	// DefaultQuorumTarget is the number of validators sampled per round
	DefaultQuorumTarget = 5

	// DefaultMinimumQuorum is the fewest votes a round can finalize on
	DefaultMinimumQuorum = 3

	// DefaultAcceptanceThreshold is the weighted accept fraction a round
	// must strictly exceed
	DefaultAcceptanceThreshold = 0.5

	// DefaultQualityBar is the weighted mean score accept votes must
	// strictly exceed
	DefaultQualityBar = 0.6

	// DefaultScoreTolerance bounds how far an agreeing accept vote may sit
	// from the consensus mean and still earn reputation
	DefaultScoreTolerance = 0.2

	// DefaultVoteDeadline is how long a round stays open for votes
	DefaultVoteDeadline = 5 * time.Minute
)

// RoundOpenedEvent is published when a round opens
type RoundOpenedEvent struct {
	Round      RoundID
	Validators []string
	Deadline   time.Time
}

// VoteSubmittedEvent is published on each recorded vote
type VoteSubmittedEvent struct {
	Round     RoundID
	Validator string
	Accept    bool
}

// RoundFinalizedEvent is published when a round closes with an outcome
type RoundFinalizedEvent struct {
	Round     RoundID
	Outcome   Outcome
	MeanScore float64
}

// RoundAbortedEvent is published when a round is administratively aborted
type RoundAbortedEvent struct {
	Round RoundID
}

type EngineConfig struct {
	PromRegistry        prometheus.Registerer
	Logger              *slog.Logger
	EventBus            *event.EventBus
	Database            *database.Database
	Registry            *artifact.Registry
	StatusWriter        *artifact.StatusWriter
	Pool                *validator.Pool
	QuorumTarget        int
	MinimumQuorum       int
	AcceptanceThreshold float64
	QualityBar          float64
	ScoreTolerance      float64
	VoteDeadline        time.Duration
}

// Engine coordinates validation rounds
type Engine struct {
	config   EngineConfig
	logger   *slog.Logger
	eventBus *event.EventBus
	db       *database.Database

	// stateMutex guards the round maps and sequence counters; individual
	// rounds carry their own mutex so voting does not serialize globally
	stateMutex sync.Mutex
	rounds     map[RoundID]*round
	results    map[RoundID]Result
	lastSeq    map[artifact.ArtifactID]uint64

	metrics struct {
		roundsOpened    prometheus.Counter
		roundsFinalized *prometheus.CounterVec
		roundsAborted   prometheus.Counter
		votes           prometheus.Counter
	}
}

// NewEngine creates a consensus engine
func NewEngine(config EngineConfig) *Engine {
	e := &Engine{
		config:   config,
		eventBus: config.EventBus,
		db:       config.Database,
		rounds:   make(map[RoundID]*round),
		results:  make(map[RoundID]Result),
		lastSeq:  make(map[artifact.ArtifactID]uint64),
	}
	if config.Logger == nil {
		// Create logger to throw away logs
		// We do this so we don't have to add guards around every log operation
		e.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	} else {
		e.logger = config.Logger
	}
	if e.config.QuorumTarget == 0 {
		e.config.QuorumTarget = DefaultQuorumTarget
	}
	if e.config.MinimumQuorum == 0 {
		e.config.MinimumQuorum = DefaultMinimumQuorum
	}
	if e.config.AcceptanceThreshold == 0 {
		e.config.AcceptanceThreshold = DefaultAcceptanceThreshold
	}
	if e.config.QualityBar == 0 {
		e.config.QualityBar = DefaultQualityBar
	}
	if e.config.ScoreTolerance == 0 {
		e.config.ScoreTolerance = DefaultScoreTolerance
	}
	if e.config.VoteDeadline == 0 {
		e.config.VoteDeadline = DefaultVoteDeadline
	}
	// Init metrics
	promautoFactory := promauto.With(config.PromRegistry)
	e.metrics.roundsOpened = promautoFactory.NewCounter(
		prometheus.CounterOpts{
			Name: "kex_consensus_rounds_opened_total",
			Help: "total validation rounds opened",
		},
	)
	e.metrics.roundsFinalized = promautoFactory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kex_consensus_rounds_finalized_total",
			Help: "total validation rounds finalized by outcome",
		},
		[]string{"outcome"},
	)
	e.metrics.roundsAborted = promautoFactory.NewCounter(
		prometheus.CounterOpts{
			Name: "kex_consensus_rounds_aborted_total",
			Help: "total validation rounds aborted",
		},
	)
	e.metrics.votes = promautoFactory.NewCounter(
		prometheus.CounterOpts{
			Name: "kex_consensus_votes_total",
			Help: "total votes recorded across all rounds",
		},
	)
	return e
}

// sampleValidators orders the eligible set by a per-round hash and takes the
// quorum target. Every node sampling the same round derives the same set.
func sampleValidators(
	roundId RoundID,
	eligible []validator.Validator,
	target int,
) []validator.Validator {
	type ranked struct {
		validator validator.Validator
		rank      [32]byte
	}
	rankedSet := make([]ranked, 0, len(eligible))
	var seqBuf [8]byte
	binary.BigEndian.PutUint64(seqBuf[:], roundId.Seq)
	for _, v := range eligible {
		h := sha256.New()
		h.Write(roundId.Artifact.Bytes())
		h.Write(seqBuf[:])
		h.Write([]byte(v.ID))
		var rank [32]byte
		copy(rank[:], h.Sum(nil))
		rankedSet = append(rankedSet, ranked{validator: v, rank: rank})
	}
	sort.Slice(rankedSet, func(i, j int) bool {
		return string(rankedSet[i].rank[:]) < string(rankedSet[j].rank[:])
	})
	if target > len(rankedSet) {
		target = len(rankedSet)
	}
	ret := make([]validator.Validator, 0, target)
	for _, item := range rankedSet[:target] {
		ret = append(ret, item.validator)
	}
	return ret
}

// nextSeq returns the next round sequence for an artifact; callers hold
// stateMutex
func (e *Engine) nextSeq(id artifact.ArtifactID) (uint64, error) {
	if _, ok := e.lastSeq[id]; !ok {
		// Resume numbering from archived rounds
		archived, err := e.db.Metadata().GetConsensusRounds(id.Bytes(), nil)
		if err != nil {
			return 0, err
		}
		var maxSeq uint64
		for _, item := range archived {
			if item.Seq > maxSeq {
				maxSeq = item.Seq
			}
		}
		e.lastSeq[id] = maxSeq
	}
	e.lastSeq[id]++
	return e.lastSeq[id], nil
}

// OpenRound starts a validation round for a pending artifact. The artifact
// moves to under_review and the sampled validators' stakes are held until
// the round closes.
func (e *Engine) OpenRound(id artifact.ArtifactID) (RoundInfo, error) {
	art, err := e.config.Registry.Get(id)
	if err != nil {
		return RoundInfo{}, err
	}

	eligible := e.config.Pool.Eligible(art.Domain)
	if len(eligible) < e.config.MinimumQuorum {
		return RoundInfo{}, &InsufficientValidatorsError{
			Available: len(eligible),
			Required:  e.config.MinimumQuorum,
		}
	}

	e.stateMutex.Lock()
	defer e.stateMutex.Unlock()

	seq, err := e.nextSeq(id)
	if err != nil {
		return RoundInfo{}, err
	}
	roundId := RoundID{Artifact: id, Seq: seq}
	selected := sampleValidators(roundId, eligible, e.config.QuorumTarget)

	// The pending -> under_review transition doubles as the guard against
	// two concurrent rounds for the same artifact
	if err := e.config.StatusWriter.MarkUnderReview(id); err != nil {
		e.lastSeq[id]--
		return RoundInfo{}, err
	}

	r := &round{
		id:        roundId,
		submitter: art.Submitter,
		selected:  make(map[string]float64, len(selected)),
		votes:     make(map[string]Vote),
		openedAt:  time.Now(),
	}
	r.deadline = r.openedAt.Add(e.config.VoteDeadline)
	for _, v := range selected {
		r.selected[v.ID] = v.Weight()
		r.order = append(r.order, v.ID)
		if err := e.config.Pool.Hold(v.ID); err != nil {
			// Unwind holds and the status transition
			for _, held := range r.order[:len(r.order)-1] {
				e.config.Pool.Release(held)
			}
			if revertErr := e.config.StatusWriter.Revert(id); revertErr != nil {
				e.logger.Error(
					"failed to revert artifact after open failure",
					"component", "consensus",
					"artifact", id.String(),
					"error", revertErr,
				)
			}
			e.lastSeq[id]--
			return RoundInfo{}, err
		}
	}
	sort.Strings(r.order)
	e.rounds[roundId] = r

	e.metrics.roundsOpened.Inc()
	e.logger.Info(
		"validation round opened",
		"component", "consensus",
		"round", roundId.String(),
		"validators", len(r.order),
		"deadline", r.deadline,
	)
	if e.eventBus != nil {
		e.eventBus.Publish(
			RoundOpenedEventType,
			event.NewEvent(
				RoundOpenedEventType,
				RoundOpenedEvent{
					Round:      roundId,
					Validators: append([]string(nil), r.order...),
					Deadline:   r.deadline,
				},
			),
		)
	}
	return r.info(), nil
}

// getRound looks up a live round; a closed round reports ErrRoundExpired
// and an unknown one ErrRoundNotFound
func (e *Engine) getRound(roundId RoundID) (*round, error) {
	e.stateMutex.Lock()
	defer e.stateMutex.Unlock()
	if r, ok := e.rounds[roundId]; ok {
		return r, nil
	}
	if _, ok := e.results[roundId]; ok {
		return nil, ErrRoundExpired
	}
	return nil, ErrRoundNotFound
}

// SubmitVote records one validator's vote in an open round
func (e *Engine) SubmitVote(
	roundId RoundID,
	validatorId string,
	score float64,
	accept bool,
) error {
	if score < 0 || score > 1 {
		return ErrInvalidScore
	}
	r, err := e.getRound(roundId)
	if err != nil {
		return err
	}
	return e.recordVote(r, validatorId, score, accept)
}

// recordVote appends a vote to a live round. The closed check runs under
// the round mutex: a caller may have fetched the round just before
// Finalize or AbortRound deleted it from the engine maps, and without the
// check its vote would land in a discarded round and vanish.
func (e *Engine) recordVote(
	r *round,
	validatorId string,
	score float64,
	accept bool,
) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.closed {
		return ErrRoundClosed
	}
	weight, ok := r.selected[validatorId]
	if !ok {
		return ErrUnauthorizedVoter
	}
	if _, ok := r.votes[validatorId]; ok {
		return ErrDuplicateVote
	}
	if time.Now().After(r.deadline) {
		return ErrRoundExpired
	}
	r.votes[validatorId] = Vote{
		Validator: validatorId,
		Accept:    accept,
		Score:     score,
		Weight:    weight,
		CastAt:    time.Now(),
	}

	e.metrics.votes.Inc()
	e.logger.Debug(
		"vote recorded",
		"component", "consensus",
		"round", r.id.String(),
		"validator", validatorId,
		"accept", accept,
		"score", score,
	)
	if e.eventBus != nil {
		e.eventBus.Publish(
			VoteSubmittedEventType,
			event.NewEvent(
				VoteSubmittedEventType,
				VoteSubmittedEvent{
					Round:     r.id,
					Validator: validatorId,
					Accept:    accept,
				},
			),
		)
	}
	return nil
}

// tally computes the weighted outcome of a round's votes
func (e *Engine) tally(r *round) Result {
	// Iterate in validator order so float accumulation is reproducible
	var totalWeight, acceptWeight, acceptScoreWeight float64
	for _, validatorId := range r.order {
		vote, ok := r.votes[validatorId]
		if !ok {
			continue
		}
		totalWeight += vote.Weight
		if vote.Accept {
			acceptWeight += vote.Weight
			acceptScoreWeight += vote.Weight * vote.Score
		}
	}
	ret := Result{
		Round:       r.id,
		Outcome:     OutcomeRejected,
		TotalWeight: totalWeight,
	}
	if totalWeight == 0 {
		return ret
	}
	ret.AcceptFraction = acceptWeight / totalWeight
	if acceptWeight > 0 {
		ret.MeanScore = acceptScoreWeight / acceptWeight
	}
	// Both checks are strict: landing exactly on a threshold rejects
	if ret.AcceptFraction > e.config.AcceptanceThreshold &&
		ret.MeanScore > e.config.QualityBar {
		ret.Outcome = OutcomeAccepted
	}
	return ret
}

// archive writes a closed round and its votes to the metadata store
func (e *Engine) archive(r *round, result Result) error {
	model := &models.ConsensusRound{
		ArtifactID:     r.id.Artifact.Bytes(),
		Seq:            r.id.Seq,
		Outcome:        result.Outcome.String(),
		AcceptFraction: result.AcceptFraction,
		MeanScore:      result.MeanScore,
		TotalWeight:    result.TotalWeight,
		OpenedAt:       r.openedAt,
		ClosedAt:       time.Now(),
	}
	for _, validatorId := range r.order {
		vote, ok := r.votes[validatorId]
		if !ok {
			continue
		}
		model.Votes = append(model.Votes, models.RoundVote{
			ValidatorID: vote.Validator,
			Accept:      vote.Accept,
			Score:       vote.Score,
			Weight:      vote.Weight,
			CastAt:      vote.CastAt,
		})
	}
	return e.db.Metadata().AddConsensusRound(model, nil)
}

// agreed reports whether a vote matches the finalized outcome closely
// enough to earn reputation
func (e *Engine) agreed(vote Vote, result Result) bool {
	accepted := result.Outcome == OutcomeAccepted
	if vote.Accept != accepted {
		return false
	}
	if !accepted {
		return true
	}
	diff := vote.Score - result.MeanScore
	if diff < 0 {
		diff = -diff
	}
	return diff <= e.config.ScoreTolerance
}

// Finalize closes a round once a full quorum has voted, or once the
// deadline has passed with at least the minimum quorum collected. It is
// idempotent: finalizing a closed round returns the stored result without
// touching reputations again.
func (e *Engine) Finalize(roundId RoundID) (Result, error) {
	e.stateMutex.Lock()
	if stored, ok := e.results[roundId]; ok {
		e.stateMutex.Unlock()
		return stored, nil
	}
	r, ok := e.rounds[roundId]
	if !ok {
		e.stateMutex.Unlock()
		return Result{}, ErrRoundNotFound
	}
	e.stateMutex.Unlock()

	r.mutex.Lock()
	defer r.mutex.Unlock()

	// Re-check under the round lock; another caller may have won the race
	e.stateMutex.Lock()
	if stored, ok := e.results[roundId]; ok {
		e.stateMutex.Unlock()
		return stored, nil
	}
	e.stateMutex.Unlock()

	fullQuorum := len(r.votes) >= len(r.selected)
	deadlinePassed := time.Now().After(r.deadline)
	if !fullQuorum &&
		!(deadlinePassed && len(r.votes) >= e.config.MinimumQuorum) {
		return Result{}, &QuorumNotMetError{
			Votes:    len(r.votes),
			Required: e.config.MinimumQuorum,
		}
	}

	result := e.tally(r)
	accepted := result.Outcome == OutcomeAccepted
	if err := e.config.StatusWriter.Finalize(
		roundId.Artifact,
		accepted,
	); err != nil {
		return Result{}, err
	}

	// Reputation moves for every vote cast; released holds let sampled
	// validators leave the pool again
	for _, validatorId := range r.order {
		if vote, ok := r.votes[validatorId]; ok {
			if err := e.config.Pool.UpdateReputation(
				validatorId,
				e.agreed(vote, result),
			); err != nil {
				e.logger.Warn(
					"failed to update validator reputation",
					"component", "consensus",
					"round", roundId.String(),
					"validator", validatorId,
					"error", err,
				)
			}
		}
		e.config.Pool.Release(validatorId)
	}

	if err := e.archive(r, result); err != nil {
		e.logger.Error(
			"failed to archive round",
			"component", "consensus",
			"round", roundId.String(),
			"error", err,
		)
	}

	r.closed = true
	e.stateMutex.Lock()
	e.results[roundId] = result
	delete(e.rounds, roundId)
	e.stateMutex.Unlock()

	e.metrics.roundsFinalized.WithLabelValues(result.Outcome.String()).Inc()
	e.logger.Info(
		"validation round finalized",
		"component", "consensus",
		"round", roundId.String(),
		"outcome", result.Outcome.String(),
		"accept_fraction", result.AcceptFraction,
		"mean_score", result.MeanScore,
	)
	if e.eventBus != nil {
		e.eventBus.Publish(
			RoundFinalizedEventType,
			event.NewEvent(
				RoundFinalizedEventType,
				RoundFinalizedEvent{
					Round:     roundId,
					Outcome:   result.Outcome,
					MeanScore: result.MeanScore,
				},
			),
		)
	}
	return result, nil
}

// AbortRound discards an open round, releasing validator stakes and
// returning the artifact to the pending queue
func (e *Engine) AbortRound(roundId RoundID) error {
	e.stateMutex.Lock()
	r, ok := e.rounds[roundId]
	if !ok {
		if _, closed := e.results[roundId]; closed {
			e.stateMutex.Unlock()
			return ErrRoundClosed
		}
		e.stateMutex.Unlock()
		return ErrRoundNotFound
	}
	e.stateMutex.Unlock()

	r.mutex.Lock()
	defer r.mutex.Unlock()

	// Another caller may have closed the round while we waited on its lock
	if r.closed {
		return ErrRoundClosed
	}

	if err := e.config.StatusWriter.Revert(roundId.Artifact); err != nil {
		return err
	}
	for _, validatorId := range r.order {
		e.config.Pool.Release(validatorId)
	}

	r.closed = true
	e.stateMutex.Lock()
	e.results[roundId] = Result{Round: roundId, Outcome: OutcomeAborted}
	delete(e.rounds, roundId)
	e.stateMutex.Unlock()

	e.metrics.roundsAborted.Inc()
	e.logger.Info(
		"validation round aborted",
		"component", "consensus",
		"round", roundId.String(),
	)
	if e.eventBus != nil {
		e.eventBus.Publish(
			RoundAbortedEventType,
			event.NewEvent(
				RoundAbortedEventType,
				RoundAbortedEvent{Round: roundId},
			),
		)
	}
	return nil
}

// GetRoundInfo returns a snapshot of a round, live or closed
func (e *Engine) GetRoundInfo(roundId RoundID) (RoundInfo, error) {
	e.stateMutex.Lock()
	r, ok := e.rounds[roundId]
	if !ok {
		_, closed := e.results[roundId]
		e.stateMutex.Unlock()
		if closed {
			return RoundInfo{Round: roundId, Finalized: true}, nil
		}
		return RoundInfo{}, ErrRoundNotFound
	}
	e.stateMutex.Unlock()
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.info(), nil
}

// GetResult returns the stored outcome of a closed round
func (e *Engine) GetResult(roundId RoundID) (Result, error) {
	e.stateMutex.Lock()
	defer e.stateMutex.Unlock()
	if result, ok := e.results[roundId]; ok {
		return result, nil
	}
	return Result{}, ErrRoundNotFound
}

// OpenRounds lists the IDs of all currently open rounds
func (e *Engine) OpenRounds() []RoundID {
	e.stateMutex.Lock()
	defer e.stateMutex.Unlock()
	ret := make([]RoundID, 0, len(e.rounds))
	for roundId := range e.rounds {
		ret = append(ret, roundId)
	}
	sort.Slice(ret, func(i, j int) bool {
		return ret[i].String() < ret[j].String()
	})
	return ret
}

// Sweep closes out rounds whose deadline has passed: rounds holding at
// least the minimum quorum finalize, the rest abort back to pending. It
// returns the results of every round it finalized.
func (e *Engine) Sweep() []Result {
	var ret []Result
	for _, roundId := range e.OpenRounds() {
		r, err := e.getRound(roundId)
		if err != nil {
			continue
		}
		r.mutex.Lock()
		expired := time.Now().After(r.deadline)
		votes := len(r.votes)
		r.mutex.Unlock()
		if !expired {
			continue
		}
		if votes >= e.config.MinimumQuorum {
			if result, err := e.Finalize(roundId); err == nil {
				ret = append(ret, result)
			}
			continue
		}
		if err := e.AbortRound(roundId); err != nil {
			e.logger.Warn(
				"failed to abort expired round",
				"component", "consensus",
				"round", roundId.String(),
				"error", err,
			)
		} else {
			e.logger.Info(
				fmt.Sprintf(
					"expired round %s aborted below quorum",
					roundId,
				),
				"component", "consensus",
			)
		}
	}
	return ret
}

// Recover returns artifacts stranded under review to the pending queue.
// Rounds live only in memory, so a crash leaves any artifact mid-review
// with no round to finalize or abort it. Called at startup, before the
// orchestrator opens new rounds.
func (e *Engine) Recover() ([]artifact.ArtifactID, error) {
	underReview, err := e.config.Registry.ListByStatus(
		artifact.StatusUnderReview,
	)
	if err != nil {
		return nil, fmt.Errorf(
			"failed to list artifacts under review: %w",
			err,
		)
	}

	live := make(map[artifact.ArtifactID]struct{})
	e.stateMutex.Lock()
	for roundId := range e.rounds {
		live[roundId.Artifact] = struct{}{}
	}
	e.stateMutex.Unlock()

	var ret []artifact.ArtifactID
	for _, art := range underReview {
		if _, ok := live[art.ID]; ok {
			continue
		}
		if err := e.config.StatusWriter.Revert(art.ID); err != nil {
			return ret, fmt.Errorf(
				"failed to revert stranded artifact %s: %w",
				art.ID,
				err,
			)
		}
		e.logger.Info(
			"returned stranded artifact to pending",
			"component", "consensus",
			"artifact", art.ID.String(),
		)
		ret = append(ret, art.ID)
	}
	return ret, nil
}
