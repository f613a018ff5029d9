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

// RoundVote is one validator's recorded vote in an archived round.
type RoundVote struct {
	ID          uint   `gorm:"primarykey"`
	RoundID     uint   `gorm:"index;not null"`
	ValidatorID string `gorm:"index;not null"`
	Accept      bool
	Score       float64
	Weight      float64
	CastAt      time.Time
}

func (RoundVote) TableName() string {
	return "round_vote"
}
