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

package models

import "time"

// ConsensusRound is the archived record of a finalized or aborted
// validation round. Live round state is held in memory by the engine;
// rows here are written once at finalization.
type ConsensusRound struct {
	ID             uint   `gorm:"primarykey"`
	ArtifactID     []byte `gorm:"size:32;index:artifact_seq_idx,unique;not null"`
	Seq            uint64 `gorm:"index:artifact_seq_idx,unique;not null"`
	Outcome        string `gorm:"not null"`
	AcceptFraction float64
	MeanScore      float64
	TotalWeight    float64
	OpenedAt       time.Time
	ClosedAt       time.Time
	Votes          []RoundVote `gorm:"foreignKey:RoundID"`
}

func (ConsensusRound) TableName() string {
	return "consensus_round"
}
