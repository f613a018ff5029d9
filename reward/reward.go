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

// Package reward computes the token allocation for an accepted artifact.
// The computation is pure: the same input always yields bit-identical
// output, so every node settles the same amounts.
package reward

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/parentheses-network/kex/artifact"
)

const (
	// DefaultPoolScale sizes the reward pool at full quality
	DefaultPoolScale = 100.0

	// DefaultPoolExponent shapes how quality scales the pool
	DefaultPoolExponent = 1.0

	// DefaultSubmitterShare is the fraction of the pool paid to the submitter
	DefaultSubmitterShare = 0.7

	// DefaultAncestorDecay is the geometric falloff per lineage depth
	DefaultAncestorDecay = 0.5
)

var (
	// ErrNotEligible is returned when quality is outside (0, 1]
	ErrNotEligible = errors.New("artifact not eligible for rewards")
)

// Role identifies why a participant receives a share
type Role string

const (
	RoleSubmitter Role = "submitter"
	RoleAncestor  Role = "ancestor"
)

// Share is one participant's slice of an allocation
type Share struct {
	Recipient string
	Role      Role
	Amount    uint64
	Depth     uint
}

// Allocation is the full reward distribution for one artifact
type Allocation struct {
	Artifact artifact.ArtifactID
	Pool     uint64
	Shares   []Share
}

// Total returns the sum of all shares; it always equals Pool
func (a Allocation) Total() uint64 {
	var total uint64
	for _, share := range a.Shares {
		total += share.Amount
	}
	return total
}

// AncestorContribution names the submitter of one lineage ancestor
type AncestorContribution struct {
	Artifact  artifact.ArtifactID
	Submitter string
	Depth     uint
}

// Input is everything ComputeRewards needs
type Input struct {
	Artifact  artifact.ArtifactID
	Submitter string
	Quality   float64
	Ancestors []AncestorContribution
}

type CalculatorConfig struct {
	PoolScale      float64
	PoolExponent   float64
	SubmitterShare float64
	AncestorDecay  float64
}

// Calculator derives reward allocations from consensus quality scores
type Calculator struct {
	config CalculatorConfig
}

// NewCalculator creates a reward calculator, filling in protocol defaults
// for unset parameters
func NewCalculator(config CalculatorConfig) (*Calculator, error) {
	if config.PoolScale == 0 {
		config.PoolScale = DefaultPoolScale
	}
	if config.PoolExponent == 0 {
		config.PoolExponent = DefaultPoolExponent
	}
	if config.SubmitterShare == 0 {
		config.SubmitterShare = DefaultSubmitterShare
	}
	if config.AncestorDecay == 0 {
		config.AncestorDecay = DefaultAncestorDecay
	}
	if config.PoolScale < 0 {
		return nil, errors.New("pool scale must not be negative")
	}
	if config.SubmitterShare < 0 || config.SubmitterShare > 1 {
		return nil, errors.New("submitter share must be within [0, 1]")
	}
	if config.AncestorDecay <= 0 || config.AncestorDecay > 1 {
		return nil, errors.New("ancestor decay must be within (0, 1]")
	}
	return &Calculator{config: config}, nil
}

// ComputeRewards sizes the pool from the consensus quality score and splits
// it between the submitter and the submitters of lineage ancestors. Rounding
// dust folds into the submitter share so the total always equals the pool.
func (c *Calculator) ComputeRewards(input Input) (Allocation, error) {
	if input.Submitter == "" {
		return Allocation{}, errors.New("submitter identity required")
	}
	if input.Quality <= 0 || input.Quality > 1 {
		return Allocation{}, fmt.Errorf(
			"%w: quality score %v outside (0, 1]",
			ErrNotEligible,
			input.Quality,
		)
	}

	pool := uint64(
		math.Floor(
			c.config.PoolScale *
				math.Pow(input.Quality, c.config.PoolExponent),
		),
	)
	ret := Allocation{
		Artifact: input.Artifact,
		Pool:     pool,
	}
	if pool == 0 {
		return ret, nil
	}

	// Order ancestors by depth then ID so iteration is deterministic no
	// matter how the caller assembled the slice
	ancestors := make([]AncestorContribution, len(input.Ancestors))
	copy(ancestors, input.Ancestors)
	sort.Slice(ancestors, func(i, j int) bool {
		if ancestors[i].Depth != ancestors[j].Depth {
			return ancestors[i].Depth < ancestors[j].Depth
		}
		return ancestors[i].Artifact.String() < ancestors[j].Artifact.String()
	})

	if len(ancestors) == 0 {
		// Whole pool to the submitter
		ret.Shares = []Share{{
			Recipient: input.Submitter,
			Role:      RoleSubmitter,
			Amount:    pool,
		}}
		return ret, nil
	}

	submitterAmount := uint64(
		math.Floor(float64(pool) * c.config.SubmitterShare),
	)
	ancestorBudget := pool - submitterAmount

	// Geometric weights by depth, renormalized over the present ancestors
	weights := make([]float64, len(ancestors))
	var weightSum float64
	for i, ancestor := range ancestors {
		weights[i] = math.Pow(
			c.config.AncestorDecay,
			float64(ancestor.Depth),
		)
		weightSum += weights[i]
	}

	var distributed uint64
	ancestorShares := make([]Share, 0, len(ancestors))
	for i, ancestor := range ancestors {
		amount := uint64(
			math.Floor(float64(ancestorBudget) * weights[i] / weightSum),
		)
		distributed += amount
		ancestorShares = append(ancestorShares, Share{
			Recipient: ancestor.Submitter,
			Role:      RoleAncestor,
			Amount:    amount,
			Depth:     ancestor.Depth,
		})
	}

	// Rounding dust goes to the submitter
	submitterAmount += ancestorBudget - distributed

	ret.Shares = append(
		[]Share{{
			Recipient: input.Submitter,
			Role:      RoleSubmitter,
			Amount:    submitterAmount,
		}},
		ancestorShares...,
	)
	return ret, nil
}
