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

package lineage

import (
	"fmt"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parentheses-network/kex/artifact"
	"github.com/parentheses-network/kex/database"
)

type testHarness struct {
	registry *artifact.Registry
	graph    *Graph
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()
	db, err := database.New(database.Config{DataDir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() {
		db.Close()
	})
	return &testHarness{
		registry: artifact.NewRegistry(artifact.RegistryConfig{
			Database:     db,
			PromRegistry: prometheus.NewRegistry(),
		}),
		graph: NewGraph(GraphConfig{
			Database:     db,
			PromRegistry: prometheus.NewRegistry(),
		}),
	}
}

func (h *testHarness) submit(t *testing.T, seed string) artifact.ArtifactID {
	t.Helper()
	id, _, err := h.registry.Submit(artifact.Submission{
		Submitter: "participant-1",
		Domain:    "vision",
		Version:   "1.0.0",
		Payload:   []byte(seed),
	})
	require.NoError(t, err)
	return id
}

func derivedFrom(parents ...artifact.ArtifactID) []artifact.ParentRef {
	ret := make([]artifact.ParentRef, 0, len(parents))
	for _, parent := range parents {
		ret = append(ret, artifact.ParentRef{
			ID:       parent,
			Relation: artifact.RelationDerivedFrom,
		})
	}
	return ret
}

func TestAddEdgesAndParents(t *testing.T) {
	h := newTestHarness(t)

	parent := h.submit(t, "base-model")
	child := h.submit(t, "fine-tuned-model")

	require.NoError(t, h.graph.AddEdges(child, []artifact.ParentRef{
		{ID: parent, Relation: artifact.RelationFineTunes},
	}))

	parents, err := h.graph.ParentsOf(child)
	require.NoError(t, err)
	require.Len(t, parents, 1)
	assert.Equal(t, parent, parents[0].ID)
	assert.Equal(t, artifact.RelationFineTunes, parents[0].Relation)

	children, err := h.graph.ChildrenOf(parent)
	require.NoError(t, err)
	require.Len(t, children, 1)
	assert.Equal(t, child, children[0])
}

func TestAddEdgesDanglingParent(t *testing.T) {
	h := newTestHarness(t)

	child := h.submit(t, "orphan")
	missing := artifact.ComputeArtifactID("vision", "1.0.0", []byte("nope"))

	err := h.graph.AddEdges(child, derivedFrom(missing))
	var dangling *DanglingParentError
	require.ErrorAs(t, err, &dangling)
	assert.Equal(t, missing, dangling.Parent)

	// Nothing was written
	parents, err := h.graph.ParentsOf(child)
	require.NoError(t, err)
	assert.Empty(t, parents)
}

func TestAddEdgesRejectsCycle(t *testing.T) {
	h := newTestHarness(t)

	a := h.submit(t, "alpha")
	b := h.submit(t, "beta")
	c := h.submit(t, "gamma")

	require.NoError(t, h.graph.AddEdges(b, derivedFrom(a)))
	require.NoError(t, h.graph.AddEdges(c, derivedFrom(b)))

	// a -> c would close the cycle a <- b <- c <- a
	err := h.graph.AddEdges(a, derivedFrom(c))
	assert.ErrorIs(t, err, ErrCyclicLineage)

	// Self-edges are cycles of length one
	d := h.submit(t, "delta")
	err = h.graph.AddEdges(d, derivedFrom(d))
	assert.ErrorIs(t, err, ErrCyclicLineage)

	// Graph left intact
	parents, err := h.graph.ParentsOf(a)
	require.NoError(t, err)
	assert.Empty(t, parents)
}

func TestAddEdgesConcurrentChildren(t *testing.T) {
	h := newTestHarness(t)

	base := h.submit(t, "shared-base")
	children := make([]artifact.ArtifactID, 8)
	for i := range children {
		children[i] = h.submit(t, fmt.Sprintf("derived-%d", i))
	}

	// Distinct children hold distinct stripes, so writes land in parallel
	var wg sync.WaitGroup
	errs := make([]error, len(children))
	for i, child := range children {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = h.graph.AddEdges(child, derivedFrom(base))
		}()
	}
	wg.Wait()

	for i := range children {
		require.NoError(t, errs[i])
	}
	derived, err := h.graph.ChildrenOf(base)
	require.NoError(t, err)
	assert.Len(t, derived, len(children))
}

func TestAncestorsBreadthFirst(t *testing.T) {
	h := newTestHarness(t)

	// grandparent <- parentA, parentB <- child
	grandparent := h.submit(t, "grandparent")
	parentA := h.submit(t, "parent-a")
	parentB := h.submit(t, "parent-b")
	child := h.submit(t, "child")

	require.NoError(t, h.graph.AddEdges(parentA, derivedFrom(grandparent)))
	require.NoError(t, h.graph.AddEdges(parentB, derivedFrom(grandparent)))
	require.NoError(t, h.graph.AddEdges(child, derivedFrom(parentA, parentB)))

	ancestors, err := h.graph.AncestorsOf(child, 0)
	require.NoError(t, err)
	require.Len(t, ancestors, 3)

	// Both parents at depth 1, ordered by ID; grandparent once at depth 2
	assert.Equal(t, uint(1), ancestors[0].Depth)
	assert.Equal(t, uint(1), ancestors[1].Depth)
	assert.True(t, ancestors[0].ID.String() < ancestors[1].ID.String())
	assert.Equal(t, Ancestor{ID: grandparent, Depth: 2}, ancestors[2])
}

func TestAncestorsShallowestDepthWins(t *testing.T) {
	h := newTestHarness(t)

	// base is both a direct parent and a grandparent through mid
	base := h.submit(t, "base")
	mid := h.submit(t, "mid")
	child := h.submit(t, "diamond-child")

	require.NoError(t, h.graph.AddEdges(mid, derivedFrom(base)))
	require.NoError(t, h.graph.AddEdges(child, derivedFrom(base, mid)))

	ancestors, err := h.graph.AncestorsOf(child, 0)
	require.NoError(t, err)
	require.Len(t, ancestors, 2)
	for _, ancestor := range ancestors {
		assert.Equal(t, uint(1), ancestor.Depth)
	}
}

func TestAncestorsMaxDepth(t *testing.T) {
	h := newTestHarness(t)

	chain := make([]artifact.ArtifactID, 5)
	for i := range chain {
		chain[i] = h.submit(t, fmt.Sprintf("link-%d", i))
		if i > 0 {
			require.NoError(
				t,
				h.graph.AddEdges(chain[i], derivedFrom(chain[i-1])),
			)
		}
	}

	ancestors, err := h.graph.AncestorsOf(chain[4], 2)
	require.NoError(t, err)
	require.Len(t, ancestors, 2)
	assert.Equal(t, chain[3], ancestors[0].ID)
	assert.Equal(t, chain[2], ancestors[1].ID)

	all, err := h.graph.AncestorsOf(chain[4], 0)
	require.NoError(t, err)
	assert.Len(t, all, 4)
}
