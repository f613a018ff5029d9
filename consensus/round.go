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

package consensus

import (
	"fmt"
	"sync"
	"time"

	"github.com/parentheses-network/kex/artifact"
)

// RoundID identifies one validation round of one artifact
type RoundID struct {
	Artifact artifact.ArtifactID
	Seq      uint64
}

func (r RoundID) String() string {
	return fmt.Sprintf("%s#%d", r.Artifact, r.Seq)
}

// Outcome is the finalized result of a round
type Outcome int

const (
	OutcomeUnknown Outcome = iota
	OutcomeAccepted
	OutcomeRejected
	OutcomeAborted
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAccepted:
		return "accepted"
	case OutcomeRejected:
		return "rejected"
	case OutcomeAborted:
		return "aborted"
	}
	return "unknown"
}

// Vote is one validator's judgment of an artifact
type Vote struct {
	Validator string
	Accept    bool
	Score     float64
	Weight    float64
	CastAt    time.Time
}

// Result is the stored outcome of a closed round
type Result struct {
	Round          RoundID
	Outcome        Outcome
	AcceptFraction float64
	MeanScore      float64
	TotalWeight    float64
}

// RoundInfo is a read-only snapshot of a round for API consumers
type RoundInfo struct {
	Round      RoundID
	Submitter  string
	Validators []string
	Votes      int
	Deadline   time.Time
	Finalized  bool
}

// round is the engine's live state for one open round. Vote submission and
// finalization take the round mutex, so rounds serialize independently of
// each other.
type round struct {
	id        RoundID
	submitter string
	// voting weight per selected validator, snapshotted at open
	selected map[string]float64
	// ordering of selected validators, for deterministic iteration
	order    []string
	votes    map[string]Vote
	openedAt time.Time
	deadline time.Time
	mutex    sync.Mutex
	// set under mutex when the round finalizes or aborts, so a voter
	// that fetched the round just before it closed still sees it
	closed bool
}

func (r *round) info() RoundInfo {
	validators := make([]string, len(r.order))
	copy(validators, r.order)
	return RoundInfo{
		Round:      r.id,
		Submitter:  r.submitter,
		Validators: validators,
		Votes:      len(r.votes),
		Deadline:   r.deadline,
	}
}
