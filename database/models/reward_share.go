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

// RewardShare is one participant's slice of an artifact's reward pool.
// Role distinguishes the submitter share from ancestor contribution shares.
type RewardShare struct {
	ID         uint   `gorm:"primarykey"`
	ArtifactID []byte `gorm:"size:32;index;not null"`
	Recipient  string `gorm:"index;not null"`
	Role       string `gorm:"not null"`
	Amount     uint64 `gorm:"not null"`
	Depth      uint   // 0 for the submitter share
}

func (RewardShare) TableName() string {
	return "reward_share"
}
