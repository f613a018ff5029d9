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
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/parentheses-network/kex/artifact"
	"github.com/parentheses-network/kex/consensus"
	"github.com/parentheses-network/kex/event"
	"github.com/parentheses-network/kex/lineage"
	"github.com/parentheses-network/kex/reward"
	"github.com/parentheses-network/kex/settlement"
)

const (
	DefaultCycleInterval = 300 * time.Second

	CycleEventType event.EventType = "exchange.cycle_completed"
)

// CycleEvent is the event data for a completed exchange cycle
type CycleEvent struct {
	RoundsOpened  int
	RoundsSettled int
}

// ExchangeConfig is the configuration for the exchange orchestrator
type ExchangeConfig struct {
	PromRegistry  prometheus.Registerer
	Logger        *slog.Logger
	EventBus      *event.EventBus
	Registry      *artifact.Registry
	Graph         *lineage.Graph
	Engine        *consensus.Engine
	Calculator    *reward.Calculator
	Ledger        *settlement.Ledger
	CycleInterval time.Duration
}

// Exchange ties the protocol components together. It accepts knowledge
// submissions with their declared lineage, drives consensus rounds for
// pending artifacts on a timer, and settles rewards for finalized rounds.
type Exchange struct {
	config   ExchangeConfig
	logger   *slog.Logger
	eventBus *event.EventBus

	startOnce  sync.Once
	shutdownFn context.CancelFunc
	doneChan   chan struct{}

	metrics struct {
		cyclesTotal  prometheus.Counter
		settledTotal prometheus.Counter
	}
}

// New creates a new exchange orchestrator with the provided configuration
func New(config ExchangeConfig) *Exchange {
	x := &Exchange{
		config:   config,
		logger:   config.Logger,
		eventBus: config.EventBus,
		doneChan: make(chan struct{}),
	}
	if config.Logger == nil {
		// Create logger to throw away logs
		// We do this so we don't have to add guards around every log operation
		x.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if x.config.CycleInterval == 0 {
		x.config.CycleInterval = DefaultCycleInterval
	}
	promautoFactory := promauto.With(config.PromRegistry)
	x.metrics.cyclesTotal = promautoFactory.NewCounter(
		prometheus.CounterOpts{
			Name: "kex_exchange_cycles_total",
			Help: "total exchange cycles run",
		},
	)
	x.metrics.settledTotal = promautoFactory.NewCounter(
		prometheus.CounterOpts{
			Name: "kex_exchange_rounds_settled_total",
			Help: "total rounds settled by the exchange",
		},
	)
	return x
}

// SubmitKnowledge registers an artifact and records its declared lineage.
// Parents are checked before the artifact is stored, so a submission
// naming an unknown parent leaves no trace. Resubmitting existing content
// resolves to the existing artifact without touching its lineage.
func (x *Exchange) SubmitKnowledge(
	sub artifact.Submission,
) (artifact.ArtifactID, bool, error) {
	for _, parent := range sub.Parents {
		if _, err := x.config.Registry.Get(parent.ID); err != nil {
			if errors.Is(err, artifact.ErrNotFound) {
				return artifact.ArtifactID{}, false, &lineage.DanglingParentError{
					Parent: parent.ID,
				}
			}
			return artifact.ArtifactID{}, false, err
		}
	}
	id, existing, err := x.config.Registry.Submit(sub)
	if err != nil {
		return artifact.ArtifactID{}, false, err
	}
	if existing {
		return id, true, nil
	}
	if len(sub.Parents) > 0 {
		if err := x.config.Graph.AddEdges(id, sub.Parents); err != nil {
			// The artifact is already registered. Leave it pending without
			// lineage rather than trying to unwind the blob write
			x.logger.Warn(
				"failed to record lineage for new artifact",
				"component", "exchange",
				"artifact", id.String(),
				"error", err,
			)
			return id, false, err
		}
	}
	return id, false, nil
}

// ancestorContributions resolves the submitters of an artifact's lineage
// ancestors for reward attribution
func (x *Exchange) ancestorContributions(
	id artifact.ArtifactID,
) ([]reward.AncestorContribution, error) {
	ancestors, err := x.config.Graph.AncestorsOf(id, 0)
	if err != nil {
		return nil, err
	}
	ret := make([]reward.AncestorContribution, 0, len(ancestors))
	for _, ancestor := range ancestors {
		ancestorArtifact, err := x.config.Registry.Get(ancestor.ID)
		if err != nil {
			return nil, err
		}
		ret = append(ret, reward.AncestorContribution{
			Artifact:  ancestor.ID,
			Submitter: ancestorArtifact.Submitter,
			Depth:     ancestor.Depth,
		})
	}
	return ret, nil
}

// settle records the outcome of a finalized round. Accepted rounds get a
// reward allocation derived from the weighted mean score; rejected rounds
// get an empty entry so the settlement log covers every finalized round.
func (x *Exchange) settle(
	result consensus.Result,
) (settlement.Record, reward.Allocation, error) {
	var alloc reward.Allocation
	if result.Outcome == consensus.OutcomeAccepted {
		art, err := x.config.Registry.Get(result.Round.Artifact)
		if err != nil {
			return settlement.Record{}, reward.Allocation{}, err
		}
		ancestors, err := x.ancestorContributions(result.Round.Artifact)
		if err != nil {
			return settlement.Record{}, reward.Allocation{}, err
		}
		alloc, err = x.config.Calculator.ComputeRewards(reward.Input{
			Artifact:  result.Round.Artifact,
			Submitter: art.Submitter,
			Quality:   result.MeanScore,
			Ancestors: ancestors,
		})
		if err != nil {
			return settlement.Record{}, reward.Allocation{}, fmt.Errorf(
				"failed to compute rewards: %w",
				err,
			)
		}
	}
	record, err := x.config.Ledger.Settle(result, alloc)
	if err != nil {
		return settlement.Record{}, reward.Allocation{}, err
	}
	x.metrics.settledTotal.Inc()
	return record, alloc, nil
}

// FinalizeAndSettle finalizes a consensus round and immediately settles
// its outcome
func (x *Exchange) FinalizeAndSettle(
	roundId consensus.RoundID,
) (consensus.Result, settlement.Record, error) {
	result, err := x.config.Engine.Finalize(roundId)
	if err != nil {
		return consensus.Result{}, settlement.Record{}, err
	}
	record, _, err := x.settle(result)
	if err != nil {
		return result, settlement.Record{}, err
	}
	return result, record, nil
}

// runCycle opens consensus rounds for pending artifacts and sweeps expired
// ones. Artifacts that cannot get a quorum yet stay pending for the next
// cycle.
func (x *Exchange) runCycle() {
	opened := 0
	settled := 0
	pending, err := x.config.Registry.ListByStatus(artifact.StatusPending)
	if err != nil {
		x.logger.Error(
			"failed to list pending artifacts",
			"component", "exchange",
			"error", err,
		)
	}
	for _, art := range pending {
		if _, err := x.config.Engine.OpenRound(art.ID); err != nil {
			var insufficient *consensus.InsufficientValidatorsError
			if errors.As(err, &insufficient) {
				x.logger.Debug(
					"deferring consensus round",
					"component", "exchange",
					"artifact", art.ID.String(),
					"available", insufficient.Available,
					"required", insufficient.Required,
				)
				continue
			}
			x.logger.Warn(
				"failed to open consensus round",
				"component", "exchange",
				"artifact", art.ID.String(),
				"error", err,
			)
			continue
		}
		opened++
	}
	for _, result := range x.config.Engine.Sweep() {
		if _, _, err := x.settle(result); err != nil {
			x.logger.Error(
				"failed to settle swept round",
				"component", "exchange",
				"round", result.Round.String(),
				"error", err,
			)
			continue
		}
		settled++
	}
	x.metrics.cyclesTotal.Inc()
	x.logger.Debug(
		"exchange cycle complete",
		"component", "exchange",
		"opened", opened,
		"settled", settled,
	)
	if x.eventBus != nil {
		x.eventBus.Publish(
			CycleEventType,
			event.NewEvent(
				CycleEventType,
				CycleEvent{RoundsOpened: opened, RoundsSettled: settled},
			),
		)
	}
}

// Start launches the background exchange cycle. It returns immediately;
// the cycle runs until Stop is called or the context is canceled.
func (x *Exchange) Start(ctx context.Context) {
	x.startOnce.Do(func() {
		ctx, x.shutdownFn = context.WithCancel(ctx)
		go func() {
			defer close(x.doneChan)
			ticker := time.NewTicker(x.config.CycleInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					x.runCycle()
				}
			}
		}()
	})
}

// Stop halts the background exchange cycle and waits for it to exit
func (x *Exchange) Stop() {
	if x.shutdownFn != nil {
		x.shutdownFn()
		<-x.doneChan
	}
}
