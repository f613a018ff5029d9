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

// Settlement is an append-only log entry recording the handoff of a
// finalized artifact's reward allocation to the settlement layer. Seq is
// assigned monotonically and mirrors the blob store checkpoint.
type Settlement struct {
	ID         uint   `gorm:"primarykey"`
	Seq        int64  `gorm:"uniqueIndex;not null"`
	ArtifactID []byte `gorm:"size:32;index;not null"`
	Outcome    string `gorm:"not null"`
	PoolAmount uint64
	TxRef      string
	SettledAt  time.Time
}

func (Settlement) TableName() string {
	return "settlement"
}
