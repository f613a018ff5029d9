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

// Package lineage maintains the directed acyclic graph of artifact
// derivation. Edges point from child to declared parent and are written
// once, at submit time, after the cycle check passes.
package lineage

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/parentheses-network/kex/artifact"
	"github.com/parentheses-network/kex/database"
	"github.com/parentheses-network/kex/database/models"
)

var (
	// ErrCyclicLineage is returned when adding edges would create a cycle
	ErrCyclicLineage = errors.New("lineage edge would create a cycle")
)

const lockStripes = 64

// DanglingParentError is returned when a declared parent is not in the registry
type DanglingParentError struct {
	Parent artifact.ArtifactID
}

func (e *DanglingParentError) Error() string {
	return fmt.Sprintf("declared parent %s is not registered", e.Parent)
}

// Ancestor is one entry in a BFS walk of an artifact's lineage
type Ancestor struct {
	ID    artifact.ArtifactID
	Depth uint
}

type GraphConfig struct {
	PromRegistry prometheus.Registerer
	Logger       *slog.Logger
	Database     *database.Database
	// MaxDepth bounds ancestor walks; zero means unbounded
	MaxDepth uint
}

// Graph is the lineage DAG over registered artifacts
type Graph struct {
	config GraphConfig
	logger *slog.Logger
	db     *database.Database
	// Edge writes lock a stripe keyed by child ID. A child's edges are
	// written exactly once, at submit time, before anything can declare
	// it as a parent, so serializing per child is enough to keep the
	// cycle check sound while unrelated children write concurrently.
	writeStripes [lockStripes]sync.Mutex
	metrics      struct {
		edgesAdded     prometheus.Counter
		cyclesRejected prometheus.Counter
	}
}

// NewGraph creates a lineage graph on top of the given database
func NewGraph(config GraphConfig) *Graph {
	g := &Graph{
		config: config,
		db:     config.Database,
	}
	if config.Logger == nil {
		// Create logger to throw away logs
		// We do this so we don't have to add guards around every log operation
		g.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	} else {
		g.logger = config.Logger
	}
	// Init metrics
	promautoFactory := promauto.With(config.PromRegistry)
	g.metrics.edgesAdded = promautoFactory.NewCounter(
		prometheus.CounterOpts{
			Name: "kex_lineage_edges_added_total",
			Help: "total lineage edges recorded",
		},
	)
	g.metrics.cyclesRejected = promautoFactory.NewCounter(
		prometheus.CounterOpts{
			Name: "kex_lineage_cycles_rejected_total",
			Help: "total edge sets rejected for creating a cycle",
		},
	)
	return g
}

// parentsOf returns the parent IDs recorded for an artifact
func (g *Graph) parentsOf(
	id artifact.ArtifactID,
) ([]artifact.ParentRef, error) {
	edges, err := g.db.Metadata().GetParentEdges(id.Bytes(), nil)
	if err != nil {
		return nil, err
	}
	ret := make([]artifact.ParentRef, 0, len(edges))
	for _, edge := range edges {
		parentId, err := artifact.ArtifactIDFromBytes(edge.ParentID)
		if err != nil {
			return nil, err
		}
		ret = append(ret, artifact.ParentRef{
			ID:       parentId,
			Relation: artifact.Relation(edge.Relation),
		})
	}
	return ret, nil
}

// reachable reports whether target can be reached from start by walking
// parent edges
func (g *Graph) reachable(
	start, target artifact.ArtifactID,
) (bool, error) {
	if start == target {
		return true, nil
	}
	visited := map[artifact.ArtifactID]struct{}{start: {}}
	stack := []artifact.ArtifactID{start}
	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		parents, err := g.parentsOf(current)
		if err != nil {
			return false, err
		}
		for _, parent := range parents {
			if parent.ID == target {
				return true, nil
			}
			if _, ok := visited[parent.ID]; ok {
				continue
			}
			visited[parent.ID] = struct{}{}
			stack = append(stack, parent.ID)
		}
	}
	return false, nil
}

// AddEdges records the declared parents of a child artifact. All parents
// must already be registered, and the new edges must not close a cycle.
// Either every edge is written or none are.
func (g *Graph) AddEdges(
	child artifact.ArtifactID,
	parents []artifact.ParentRef,
) error {
	if len(parents) == 0 {
		return nil
	}
	stripe := &g.writeStripes[child[0]%lockStripes]
	stripe.Lock()
	defer stripe.Unlock()

	for _, parent := range parents {
		model, err := g.db.Metadata().GetArtifact(parent.ID.Bytes(), nil)
		if err != nil {
			return err
		}
		if model == nil {
			return &DanglingParentError{Parent: parent.ID}
		}
	}
	// The child's edges are added exactly once, so a cycle can only form
	// if the child is already an ancestor of one of its declared parents
	for _, parent := range parents {
		cyclic, err := g.reachable(parent.ID, child)
		if err != nil {
			return err
		}
		if cyclic {
			g.metrics.cyclesRejected.Inc()
			g.logger.Warn(
				"rejected lineage edges",
				"component", "lineage",
				"artifact", child.String(),
				"parent", parent.ID.String(),
				"error", ErrCyclicLineage,
			)
			return ErrCyclicLineage
		}
	}

	edges := make([]models.LineageEdge, 0, len(parents))
	for _, parent := range parents {
		edges = append(edges, models.LineageEdge{
			ChildID:  child.Bytes(),
			ParentID: parent.ID.Bytes(),
			Relation: string(parent.Relation),
		})
	}
	txn := g.db.Metadata().Transaction()
	if err := g.db.Metadata().AddLineageEdges(edges, txn); err != nil {
		txn.Rollback()
		return err
	}
	if err := txn.Commit().Error; err != nil {
		return err
	}
	g.metrics.edgesAdded.Add(float64(len(edges)))
	g.logger.Debug(
		"lineage edges recorded",
		"component", "lineage",
		"artifact", child.String(),
		"parents", len(edges),
	)
	return nil
}

// ParentsOf returns the declared parents of an artifact
func (g *Graph) ParentsOf(
	id artifact.ArtifactID,
) ([]artifact.ParentRef, error) {
	return g.parentsOf(id)
}

// ChildrenOf returns the artifacts that declared the given artifact as a parent
func (g *Graph) ChildrenOf(
	id artifact.ArtifactID,
) ([]artifact.ArtifactID, error) {
	edges, err := g.db.Metadata().GetChildEdges(id.Bytes(), nil)
	if err != nil {
		return nil, err
	}
	ret := make([]artifact.ArtifactID, 0, len(edges))
	for _, edge := range edges {
		childId, err := artifact.ArtifactIDFromBytes(edge.ChildID)
		if err != nil {
			return nil, err
		}
		ret = append(ret, childId)
	}
	return ret, nil
}

// AncestorsOf walks the lineage of an artifact breadth-first and returns
// each distinct ancestor at its shallowest depth. The result is ordered by
// depth, then by ID, so callers iterating it behave deterministically. A
// zero maxDepth falls back to the graph's configured bound.
func (g *Graph) AncestorsOf(
	id artifact.ArtifactID,
	maxDepth uint,
) ([]Ancestor, error) {
	if maxDepth == 0 {
		maxDepth = g.config.MaxDepth
	}
	var ret []Ancestor
	seen := map[artifact.ArtifactID]struct{}{id: {}}
	frontier := []artifact.ArtifactID{id}
	for depth := uint(1); len(frontier) > 0; depth++ {
		if maxDepth > 0 && depth > maxDepth {
			break
		}
		var next []artifact.ArtifactID
		for _, current := range frontier {
			parents, err := g.parentsOf(current)
			if err != nil {
				return nil, err
			}
			for _, parent := range parents {
				if _, ok := seen[parent.ID]; ok {
					continue
				}
				seen[parent.ID] = struct{}{}
				ret = append(ret, Ancestor{ID: parent.ID, Depth: depth})
				next = append(next, parent.ID)
			}
		}
		frontier = next
	}
	sort.Slice(ret, func(i, j int) bool {
		if ret[i].Depth != ret[j].Depth {
			return ret[i].Depth < ret[j].Depth
		}
		return ret[i].ID.String() < ret[j].ID.String()
	})
	return ret, nil
}
