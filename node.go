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

package kex

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/parentheses-network/kex/artifact"
	"github.com/parentheses-network/kex/consensus"
	"github.com/parentheses-network/kex/database"
	"github.com/parentheses-network/kex/event"
	"github.com/parentheses-network/kex/exchange"
	"github.com/parentheses-network/kex/gateway"
	"github.com/parentheses-network/kex/identity"
	"github.com/parentheses-network/kex/lineage"
	"github.com/parentheses-network/kex/reward"
	"github.com/parentheses-network/kex/settlement"
	"github.com/parentheses-network/kex/validator"
)

type Node struct {
	eventBus      *event.EventBus
	db            *database.Database
	keystore      *identity.KeyStore
	registry      *artifact.Registry
	graph         *lineage.Graph
	pool          *validator.Pool
	engine        *consensus.Engine
	calculator    *reward.Calculator
	ledger        *settlement.Ledger
	exchange      *exchange.Exchange
	gateway       *gateway.Gateway
	shutdownFuncs []func(context.Context) error
	config        Config
	done          chan struct{}
	shutdownOnce  sync.Once
}

func New(cfg Config) (*Node, error) {
	eventBus := event.NewEventBus(cfg.promRegistry, cfg.logger)
	n := &Node{
		config:   cfg,
		eventBus: eventBus,
		done:     make(chan struct{}),
	}
	if err := n.configValidate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return n, nil
}

func (n *Node) Run(ctx context.Context) error {
	// Configure tracing
	if n.config.tracing {
		if err := n.setupTracing(); err != nil {
			return err
		}
	}
	// Load database
	db, err := database.New(database.Config{
		DataDir:        n.config.dataDir,
		BlobPlugin:     n.config.blobPlugin,
		MetadataPlugin: n.config.metadataPlugin,
		Logger:         n.config.logger,
		PromRegistry:   n.config.promRegistry,
	})
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	n.db = db
	// Load keystore and resolve the settlement signing identity
	var signer identity.Signer
	if n.config.keystoreDir != "" {
		ks, err := identity.NewKeyStore(identity.KeyStoreConfig{
			Dir:         n.config.keystoreDir,
			EncryptKeys: n.config.encryptKeys,
			Logger:      n.config.logger,
		})
		if err != nil {
			return fmt.Errorf("failed to open keystore: %w", err)
		}
		n.keystore = ks
		signer, err = n.resolveSigner()
		if err != nil {
			return err
		}
	}
	// Artifact registry
	n.registry = artifact.NewRegistry(artifact.RegistryConfig{
		PromRegistry:    n.config.promRegistry,
		Logger:          n.config.logger,
		EventBus:        n.eventBus,
		Database:        n.db,
		MaxPayloadBytes: n.config.maxPayloadBytes,
	})
	// Lineage graph
	n.graph = lineage.NewGraph(lineage.GraphConfig{
		PromRegistry: n.config.promRegistry,
		Logger:       n.config.logger,
		Database:     n.db,
		MaxDepth:     n.config.maxLineageDepth,
	})
	// Validator pool
	n.pool, err = validator.NewPool(validator.PoolConfig{
		PromRegistry:   n.config.promRegistry,
		Logger:         n.config.logger,
		EventBus:       n.eventBus,
		Database:       n.db,
		MinimumStake:   n.config.minimumStake,
		ReputationRate: n.config.reputationRate,
	})
	if err != nil {
		return fmt.Errorf("failed to load validator pool: %w", err)
	}
	// Consensus engine
	n.engine = consensus.NewEngine(consensus.EngineConfig{
		PromRegistry:        n.config.promRegistry,
		Logger:              n.config.logger,
		EventBus:            n.eventBus,
		Database:            n.db,
		Registry:            n.registry,
		StatusWriter:        artifact.NewStatusWriter(n.registry),
		Pool:                n.pool,
		QuorumTarget:        n.config.quorumTarget,
		MinimumQuorum:       n.config.minimumQuorum,
		AcceptanceThreshold: n.config.acceptanceThreshold,
		QualityBar:          n.config.qualityBar,
		ScoreTolerance:      n.config.scoreTolerance,
		VoteDeadline:        n.config.voteDeadline,
	})
	// Reward calculator
	n.calculator, err = reward.NewCalculator(reward.CalculatorConfig{
		PoolScale:      n.config.poolScale,
		PoolExponent:   n.config.poolExponent,
		SubmitterShare: n.config.submitterShare,
		AncestorDecay:  n.config.ancestorDecay,
	})
	if err != nil {
		return fmt.Errorf("invalid reward parameters: %w", err)
	}
	// Settlement ledger
	n.ledger = settlement.NewLedger(settlement.LedgerConfig{
		PromRegistry: n.config.promRegistry,
		Logger:       n.config.logger,
		EventBus:     n.eventBus,
		Database:     n.db,
		Signer:       signer,
	})
	// Reconcile the settlement checkpoint against the log before accepting
	// new work
	recovered, err := n.ledger.Recover()
	if err != nil {
		return fmt.Errorf("failed to recover settlement ledger: %w", err)
	}
	if len(recovered) > 0 {
		n.config.logger.Info(
			"recovered settlement checkpoint",
			"component", "node",
			"entries", len(recovered),
		)
	}
	// Return artifacts stranded mid-review by a crash to the pending queue
	reverted, err := n.engine.Recover()
	if err != nil {
		return fmt.Errorf("failed to recover stranded artifacts: %w", err)
	}
	if len(reverted) > 0 {
		n.config.logger.Info(
			"recovered stranded artifacts",
			"component", "node",
			"artifacts", len(reverted),
		)
	}
	// Exchange orchestrator
	n.exchange = exchange.New(exchange.ExchangeConfig{
		PromRegistry:  n.config.promRegistry,
		Logger:        n.config.logger,
		EventBus:      n.eventBus,
		Registry:      n.registry,
		Graph:         n.graph,
		Engine:        n.engine,
		Calculator:    n.calculator,
		Ledger:        n.ledger,
		CycleInterval: n.config.cycleInterval,
	})
	// The exchange cycle and gateway outlive the Run context; shutdown is
	// driven through Stop so in-flight settlements drain cleanly
	//nolint:contextcheck
	n.exchange.Start(context.Background())
	// API gateway
	n.gateway = gateway.New(gateway.GatewayConfig{
		ListenAddress: n.config.apiListenAddress,
		Logger:        n.config.logger,
		Database:      n.db,
		Registry:      n.registry,
		Graph:         n.graph,
		Pool:          n.pool,
		Engine:        n.engine,
		Exchange:      n.exchange,
		Ledger:        n.ledger,
	})
	//nolint:contextcheck
	if err := n.gateway.Start(context.Background()); err != nil {
		return fmt.Errorf("failed to start API gateway: %w", err)
	}

	// Wait for shutdown
	select {
	case <-ctx.Done():
		return n.Stop()
	case <-n.done:
	}
	return nil
}

// resolveSigner picks the keystore identity used to sign settlement
// entries. A configured identity must already exist; otherwise an existing
// key is reused or a fresh one generated.
func (n *Node) resolveSigner() (identity.Signer, error) {
	if n.config.signingIdentity != "" {
		signer, err := n.keystore.Signer(n.config.signingIdentity)
		if err != nil {
			return nil, fmt.Errorf(
				"unknown signing identity %q: %w",
				n.config.signingIdentity,
				err,
			)
		}
		return signer, nil
	}
	ids := n.keystore.Identities()
	if len(ids) > 0 {
		slices.Sort(ids)
		return n.keystore.Signer(ids[0])
	}
	return n.keystore.Generate("settlement signing key")
}

func (n *Node) Stop() error {
	var err error
	n.shutdownOnce.Do(func() {
		err = n.shutdown()
	})
	return err
}

func (n *Node) shutdown() error {
	// Create shutdown context with timeout (default 30s if not configured)
	shutdownTimeout := 30 * time.Second
	if n.config.shutdownTimeout > 0 {
		shutdownTimeout = n.config.shutdownTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var err error

	n.config.logger.Debug("starting graceful shutdown")

	// Phase 1: Stop accepting new work
	n.config.logger.Debug("shutdown phase 1: stopping new work")

	if n.gateway != nil {
		if stopErr := n.gateway.Stop(ctx); stopErr != nil {
			err = errors.Join(err, fmt.Errorf("gateway shutdown: %w", stopErr))
		}
	}

	// Phase 2: Drain in-flight work
	n.config.logger.Debug("shutdown phase 2: draining in-flight work")

	if n.exchange != nil {
		n.exchange.Stop()
	}

	// Phase 3: Flush state and close database
	n.config.logger.Debug("shutdown phase 3: flushing state")

	if n.db != nil {
		if closeErr := n.db.Close(); closeErr != nil {
			err = errors.Join(
				err,
				fmt.Errorf("database close: %w", closeErr),
			)
		}
	}

	// Phase 4: Cleanup resources
	n.config.logger.Debug("shutdown phase 4: cleanup resources")

	// Call registered shutdown functions
	for _, fn := range n.shutdownFuncs {
		if fnErr := fn(ctx); fnErr != nil {
			err = errors.Join(err, fmt.Errorf("shutdown function: %w", fnErr))
		}
	}
	n.shutdownFuncs = nil

	if n.eventBus != nil {
		n.eventBus.Stop()
	}

	n.config.logger.Debug("graceful shutdown complete")
	close(n.done)
	return err
}
