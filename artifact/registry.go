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

package artifact

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/parentheses-network/kex/database"
	"github.com/parentheses-network/kex/database/models"
	"github.com/parentheses-network/kex/event"
)

const (
	SubmittedEventType    event.EventType = "artifact.submitted"
	StatusChangeEventType event.EventType = "artifact.status_change"

	// DefaultMaxPayloadBytes caps accepted payload size at 16 MiB
	DefaultMaxPayloadBytes = 16 << 20
)

// SubmittedEvent is published when a new artifact enters the registry
type SubmittedEvent struct {
	ID        ArtifactID
	Submitter string
	Domain    string
	Version   string
}

// StatusChangeEvent is published on every status transition
type StatusChangeEvent struct {
	ID   ArtifactID
	From Status
	To   Status
}

type RegistryConfig struct {
	PromRegistry    prometheus.Registerer
	Logger          *slog.Logger
	EventBus        *event.EventBus
	Database        *database.Database
	MaxPayloadBytes uint64
}

// Registry is the content-addressed store of knowledge artifacts
type Registry struct {
	config   RegistryConfig
	logger   *slog.Logger
	eventBus *event.EventBus
	db       *database.Database
	// Serializes submit-or-lookup for a given content ID so concurrent
	// submissions of identical content observe a single insert
	submitMutex sync.Mutex
	metrics     struct {
		artifactsSubmitted prometheus.Counter
		duplicateSubmits   prometheus.Counter
		statusTransitions  *prometheus.CounterVec
	}
}

// NewRegistry creates an artifact registry on top of the given database
func NewRegistry(config RegistryConfig) *Registry {
	r := &Registry{
		config:   config,
		eventBus: config.EventBus,
		db:       config.Database,
	}
	if config.Logger == nil {
		// Create logger to throw away logs
		// We do this so we don't have to add guards around every log operation
		r.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	} else {
		r.logger = config.Logger
	}
	if r.config.MaxPayloadBytes == 0 {
		r.config.MaxPayloadBytes = DefaultMaxPayloadBytes
	}
	// Init metrics
	promautoFactory := promauto.With(config.PromRegistry)
	r.metrics.artifactsSubmitted = promautoFactory.NewCounter(
		prometheus.CounterOpts{
			Name: "kex_registry_artifacts_submitted_total",
			Help: "total artifacts accepted into the registry",
		},
	)
	r.metrics.duplicateSubmits = promautoFactory.NewCounter(
		prometheus.CounterOpts{
			Name: "kex_registry_duplicate_submits_total",
			Help: "total submissions resolved to an existing artifact",
		},
	)
	r.metrics.statusTransitions = promautoFactory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kex_registry_status_transitions_total",
			Help: "total artifact status transitions by target status",
		},
		[]string{"to"},
	)
	return r
}

func (r *Registry) validateSubmission(sub Submission) error {
	if sub.Submitter == "" {
		return ErrInvalidSubmitter
	}
	if sub.Domain == "" {
		return ErrInvalidDomain
	}
	if !validVersion(sub.Version) {
		return ErrInvalidVersion
	}
	if len(sub.Payload) == 0 {
		return ErrInvalidPayload
	}
	if uint64(len(sub.Payload)) > r.config.MaxPayloadBytes {
		return &PayloadTooLargeError{
			Size:  uint64(len(sub.Payload)),
			Limit: r.config.MaxPayloadBytes,
		}
	}
	seen := make(map[ArtifactID]struct{}, len(sub.Parents))
	for _, parent := range sub.Parents {
		if !parent.Relation.Valid() {
			return ErrInvalidRelation
		}
		if _, ok := seen[parent.ID]; ok {
			return ErrDuplicateParent
		}
		seen[parent.ID] = struct{}{}
	}
	return nil
}

// Submit validates a submission, stores its payload, and records the
// artifact in pending status. Submitting identical content again returns
// the existing ID without touching stored state; the second return value
// reports whether the artifact already existed.
func (r *Registry) Submit(sub Submission) (ArtifactID, bool, error) {
	if err := r.validateSubmission(sub); err != nil {
		return ArtifactID{}, false, err
	}
	id := ComputeArtifactID(sub.Domain, sub.Version, sub.Payload)

	r.submitMutex.Lock()
	defer r.submitMutex.Unlock()

	existing, err := r.db.Metadata().GetArtifact(id.Bytes(), nil)
	if err != nil {
		return ArtifactID{}, false, fmt.Errorf(
			"failed to check for existing artifact: %w",
			err,
		)
	}
	if existing != nil {
		r.metrics.duplicateSubmits.Inc()
		r.logger.Debug(
			"duplicate submission resolved to existing artifact",
			"component", "registry",
			"artifact", id.String(),
		)
		return id, true, nil
	}

	// Payload first so a crash between the two writes leaves an orphaned
	// blob rather than a dangling metadata record
	if err := r.db.Blob().PutPayload(id.Bytes(), sub.Payload); err != nil {
		return ArtifactID{}, false, fmt.Errorf(
			"failed to store payload: %w",
			err,
		)
	}
	if err := r.db.Metadata().AddArtifact(&models.Artifact{
		ArtifactID:  id.Bytes(),
		Submitter:   sub.Submitter,
		Domain:      sub.Domain,
		Version:     sub.Version,
		Status:      StatusPending.String(),
		PayloadSize: uint64(len(sub.Payload)),
		SubmittedAt: time.Now(),
	}, nil); err != nil {
		return ArtifactID{}, false, fmt.Errorf(
			"failed to record artifact: %w",
			err,
		)
	}

	r.metrics.artifactsSubmitted.Inc()
	r.logger.Info(
		"artifact submitted",
		"component", "registry",
		"artifact", id.String(),
		"domain", sub.Domain,
		"version", sub.Version,
		"submitter", sub.Submitter,
	)
	if r.eventBus != nil {
		r.eventBus.Publish(
			SubmittedEventType,
			event.NewEvent(
				SubmittedEventType,
				SubmittedEvent{
					ID:        id,
					Submitter: sub.Submitter,
					Domain:    sub.Domain,
					Version:   sub.Version,
				},
			),
		)
	}
	return id, false, nil
}

func (r *Registry) artifactFromModel(
	model *models.Artifact,
) (*Artifact, error) {
	id, err := ArtifactIDFromBytes(model.ArtifactID)
	if err != nil {
		return nil, err
	}
	status, err := StatusFromString(model.Status)
	if err != nil {
		return nil, err
	}
	ret := &Artifact{
		ID:          id,
		Submitter:   model.Submitter,
		Domain:      model.Domain,
		Version:     model.Version,
		Status:      status,
		PayloadSize: model.PayloadSize,
		SubmittedAt: model.SubmittedAt,
		ReviewedAt:  model.ReviewedAt,
	}
	edges, err := r.db.Metadata().GetParentEdges(model.ArtifactID, nil)
	if err != nil {
		return nil, err
	}
	for _, edge := range edges {
		parentId, err := ArtifactIDFromBytes(edge.ParentID)
		if err != nil {
			return nil, err
		}
		ret.Parents = append(ret.Parents, ParentRef{
			ID:       parentId,
			Relation: Relation(edge.Relation),
		})
	}
	return ret, nil
}

// Get returns the artifact with the given ID
func (r *Registry) Get(id ArtifactID) (*Artifact, error) {
	model, err := r.db.Metadata().GetArtifact(id.Bytes(), nil)
	if err != nil {
		return nil, err
	}
	if model == nil {
		return nil, ErrNotFound
	}
	return r.artifactFromModel(model)
}

// GetPayload returns the stored payload bytes for an artifact
func (r *Registry) GetPayload(id ArtifactID) ([]byte, error) {
	model, err := r.db.Metadata().GetArtifact(id.Bytes(), nil)
	if err != nil {
		return nil, err
	}
	if model == nil {
		return nil, ErrNotFound
	}
	return r.db.Blob().GetPayload(id.Bytes())
}

func (r *Registry) artifactsFromModels(
	items []models.Artifact,
) ([]*Artifact, error) {
	ret := make([]*Artifact, 0, len(items))
	for i := range items {
		tmp, err := r.artifactFromModel(&items[i])
		if err != nil {
			return nil, err
		}
		ret = append(ret, tmp)
	}
	return ret, nil
}

// ListByStatus returns artifacts in the given status, oldest first
func (r *Registry) ListByStatus(status Status) ([]*Artifact, error) {
	items, err := r.db.Metadata().GetArtifactsByStatus(status.String(), nil)
	if err != nil {
		return nil, err
	}
	return r.artifactsFromModels(items)
}

// ListByDomain returns artifacts in the given knowledge domain, oldest first
func (r *Registry) ListByDomain(domain string) ([]*Artifact, error) {
	items, err := r.db.Metadata().GetArtifactsByDomain(domain, nil)
	if err != nil {
		return nil, err
	}
	return r.artifactsFromModels(items)
}

// ListBySubmitter returns artifacts submitted by a participant, oldest first
func (r *Registry) ListBySubmitter(submitter string) ([]*Artifact, error) {
	items, err := r.db.Metadata().GetArtifactsBySubmitter(submitter, nil)
	if err != nil {
		return nil, err
	}
	return r.artifactsFromModels(items)
}

// transition applies a status change after checking it against the lifecycle.
// Only reachable through a StatusWriter.
func (r *Registry) transition(id ArtifactID, to Status) error {
	r.submitMutex.Lock()
	defer r.submitMutex.Unlock()

	model, err := r.db.Metadata().GetArtifact(id.Bytes(), nil)
	if err != nil {
		return err
	}
	if model == nil {
		return ErrNotFound
	}
	from, err := StatusFromString(model.Status)
	if err != nil {
		return err
	}
	if !validTransition(from, to) {
		return &IllegalTransitionError{ID: id, From: from, To: to}
	}
	if err := r.db.Metadata().SetArtifactStatus(
		id.Bytes(),
		to.String(),
		nil,
	); err != nil {
		return err
	}
	r.metrics.statusTransitions.WithLabelValues(to.String()).Inc()
	r.logger.Info(
		"artifact status changed",
		"component", "registry",
		"artifact", id.String(),
		"from", from.String(),
		"to", to.String(),
	)
	if r.eventBus != nil {
		r.eventBus.Publish(
			StatusChangeEventType,
			event.NewEvent(
				StatusChangeEventType,
				StatusChangeEvent{ID: id, From: from, To: to},
			),
		)
	}
	return nil
}
