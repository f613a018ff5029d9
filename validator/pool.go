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

// Package validator tracks the pool of staked validators and their
// reputations. Pool state lives in memory for vote-path reads and is
// written through to the metadata store so it survives restarts.
package validator

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/parentheses-network/kex/database"
	"github.com/parentheses-network/kex/database/models"
	"github.com/parentheses-network/kex/event"
)

const (
	RegisteredEventType   event.EventType = "validator.registered"
	DeregisteredEventType event.EventType = "validator.deregistered"

	// InitialReputation is assigned to newly registered validators
	InitialReputation = 0.5

	// DefaultReputationRate is the EMA step applied per scored round
	DefaultReputationRate = 0.1
)

var (
	// ErrNotRegistered is returned when operating on an unknown validator
	ErrNotRegistered = errors.New("validator not registered")

	// ErrAlreadyRegistered is returned when registering an existing validator
	ErrAlreadyRegistered = errors.New("validator already registered")

	// ErrStakeHeld is returned when deregistering a validator with open rounds
	ErrStakeHeld = errors.New("validator stake held by open rounds")
)

// InsufficientStakeError is returned when a registration offers less than
// the pool minimum
type InsufficientStakeError struct {
	Stake   uint64
	Minimum uint64
}

func (e *InsufficientStakeError) Error() string {
	return fmt.Sprintf(
		"stake %d below pool minimum of %d",
		e.Stake,
		e.Minimum,
	)
}

// RegisteredEvent is published when a validator joins the pool
type RegisteredEvent struct {
	ID    string
	Stake uint64
}

// DeregisteredEvent is published when a validator leaves the pool
type DeregisteredEvent struct {
	ID string
}

// Validator is a snapshot of one pool member. An empty Domains list means
// the validator reviews every knowledge domain.
type Validator struct {
	ID           string
	Stake        uint64
	Reputation   float64
	Domains      []string
	RegisteredAt time.Time
}

// covers reports whether the validator reviews the given domain
func (v Validator) covers(domain string) bool {
	if len(v.Domains) == 0 || domain == "" {
		return true
	}
	return slices.Contains(v.Domains, domain)
}

// Weight is the validator's voting weight: stake scaled by reputation
func (v Validator) Weight() float64 {
	return float64(v.Stake) * v.Reputation
}

type PoolConfig struct {
	PromRegistry   prometheus.Registerer
	Logger         *slog.Logger
	EventBus       *event.EventBus
	Database       *database.Database
	MinimumStake   uint64
	ReputationRate float64
}

type poolEntry struct {
	validator Validator
	holds     int
}

// Pool is the active validator set
type Pool struct {
	config   PoolConfig
	logger   *slog.Logger
	eventBus *event.EventBus
	db       *database.Database
	mutex    sync.RWMutex
	entries  map[string]*poolEntry
	metrics  struct {
		poolSize   prometheus.Gauge
		totalStake prometheus.Gauge
	}
}

// NewPool creates a validator pool, loading any previously registered
// validators from the metadata store
func NewPool(config PoolConfig) (*Pool, error) {
	p := &Pool{
		config:   config,
		eventBus: config.EventBus,
		db:       config.Database,
		entries:  make(map[string]*poolEntry),
	}
	if config.Logger == nil {
		// Create logger to throw away logs
		// We do this so we don't have to add guards around every log operation
		p.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	} else {
		p.logger = config.Logger
	}
	if p.config.ReputationRate == 0 {
		p.config.ReputationRate = DefaultReputationRate
	}
	// Init metrics
	promautoFactory := promauto.With(config.PromRegistry)
	p.metrics.poolSize = promautoFactory.NewGauge(prometheus.GaugeOpts{
		Name: "kex_validator_pool_size",
		Help: "current number of active validators",
	})
	p.metrics.totalStake = promautoFactory.NewGauge(prometheus.GaugeOpts{
		Name: "kex_validator_pool_stake_total",
		Help: "total stake held by active validators",
	})
	if err := p.load(); err != nil {
		return nil, err
	}
	return p, nil
}

// load restores active validators from the metadata store
func (p *Pool) load() error {
	if p.db == nil {
		return nil
	}
	stored, err := p.db.Metadata().GetValidators(true, nil)
	if err != nil {
		return fmt.Errorf("failed to load validators: %w", err)
	}
	for _, item := range stored {
		var domains []string
		if item.Domains != "" {
			domains = strings.Split(item.Domains, ",")
		}
		p.entries[item.ValidatorID] = &poolEntry{
			validator: Validator{
				ID:           item.ValidatorID,
				Stake:        item.Stake,
				Reputation:   item.Reputation,
				Domains:      domains,
				RegisteredAt: item.RegisteredAt,
			},
		}
	}
	p.updateMetrics()
	return nil
}

// updateMetrics recomputes pool gauges; callers hold the mutex
func (p *Pool) updateMetrics() {
	var totalStake uint64
	for _, entry := range p.entries {
		totalStake += entry.validator.Stake
	}
	p.metrics.poolSize.Set(float64(len(p.entries)))
	p.metrics.totalStake.Set(float64(totalStake))
}

// persist writes a validator's current state through to the metadata store;
// callers hold the mutex
func (p *Pool) persist(v Validator, active bool) error {
	if p.db == nil {
		return nil
	}
	return p.db.Metadata().UpsertValidator(&models.Validator{
		ValidatorID:  v.ID,
		Stake:        v.Stake,
		Reputation:   v.Reputation,
		Domains:      strings.Join(v.Domains, ","),
		Active:       active,
		RegisteredAt: v.RegisteredAt,
	}, nil)
}

// Register adds a validator to the pool with the given stake and domain
// expertise. New validators start at the neutral reputation midpoint; an
// empty domain list registers expertise in every domain.
func (p *Pool) Register(id string, stake uint64, domains []string) error {
	if id == "" {
		return errors.New("validator identity required")
	}
	if stake < p.config.MinimumStake {
		return &InsufficientStakeError{
			Stake:   stake,
			Minimum: p.config.MinimumStake,
		}
	}
	p.mutex.Lock()
	defer p.mutex.Unlock()
	if _, ok := p.entries[id]; ok {
		return ErrAlreadyRegistered
	}
	v := Validator{
		ID:           id,
		Stake:        stake,
		Reputation:   InitialReputation,
		Domains:      slices.Clone(domains),
		RegisteredAt: time.Now(),
	}
	if err := p.persist(v, true); err != nil {
		return err
	}
	p.entries[id] = &poolEntry{validator: v}
	p.updateMetrics()
	p.logger.Info(
		"validator registered",
		"component", "validator",
		"validator", id,
		"stake", stake,
	)
	if p.eventBus != nil {
		p.eventBus.Publish(
			RegisteredEventType,
			event.NewEvent(
				RegisteredEventType,
				RegisteredEvent{ID: id, Stake: stake},
			),
		)
	}
	return nil
}

// Deregister removes a validator from the pool. A validator sampled into a
// round that has not yet closed cannot leave.
func (p *Pool) Deregister(id string) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	entry, ok := p.entries[id]
	if !ok {
		return ErrNotRegistered
	}
	if entry.holds > 0 {
		return ErrStakeHeld
	}
	if err := p.persist(entry.validator, false); err != nil {
		return err
	}
	delete(p.entries, id)
	p.updateMetrics()
	p.logger.Info(
		"validator deregistered",
		"component", "validator",
		"validator", id,
	)
	if p.eventBus != nil {
		p.eventBus.Publish(
			DeregisteredEventType,
			event.NewEvent(
				DeregisteredEventType,
				DeregisteredEvent{ID: id},
			),
		)
	}
	return nil
}

// Get returns a snapshot of one validator
func (p *Pool) Get(id string) (Validator, error) {
	p.mutex.RLock()
	defer p.mutex.RUnlock()
	entry, ok := p.entries[id]
	if !ok {
		return Validator{}, ErrNotRegistered
	}
	return entry.validator, nil
}

// Eligible returns the pool members whose expertise covers the given
// domain and whose stake meets the pool minimum, ordered by ID. An empty
// domain matches every validator.
func (p *Pool) Eligible(domain string) []Validator {
	p.mutex.RLock()
	defer p.mutex.RUnlock()
	ret := make([]Validator, 0, len(p.entries))
	for _, entry := range p.entries {
		if entry.validator.Stake < p.config.MinimumStake {
			continue
		}
		if !entry.validator.covers(domain) {
			continue
		}
		ret = append(ret, entry.validator)
	}
	sort.Slice(ret, func(i, j int) bool {
		return ret[i].ID < ret[j].ID
	})
	return ret
}

// Hold marks a validator's stake as committed to an open round
func (p *Pool) Hold(id string) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	entry, ok := p.entries[id]
	if !ok {
		return ErrNotRegistered
	}
	entry.holds++
	return nil
}

// Release drops one round's hold on a validator's stake. Unknown IDs are
// ignored so releasing after a concurrent deregistration attempt is safe.
func (p *Pool) Release(id string) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	entry, ok := p.entries[id]
	if !ok {
		return
	}
	if entry.holds > 0 {
		entry.holds--
	}
}

// UpdateReputation nudges a validator's reputation toward 1 when its vote
// agreed with the round outcome and toward 0 when it did not. The move is
// an exponential moving average step clamped to [0, 1].
func (p *Pool) UpdateReputation(id string, agreed bool) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	entry, ok := p.entries[id]
	if !ok {
		return ErrNotRegistered
	}
	target := 0.0
	if agreed {
		target = 1.0
	}
	rep := entry.validator.Reputation
	rep += p.config.ReputationRate * (target - rep)
	if rep < 0 {
		rep = 0
	} else if rep > 1 {
		rep = 1
	}
	entry.validator.Reputation = rep
	if err := p.persist(entry.validator, true); err != nil {
		return err
	}
	p.logger.Debug(
		"validator reputation updated",
		"component", "validator",
		"validator", id,
		"agreed", agreed,
		"reputation", rep,
	)
	return nil
}
