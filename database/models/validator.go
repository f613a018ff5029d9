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

// Validator is the durable record of a pool member. Stake is recorded in
// base units; reputation is persisted so it survives restarts. Domains is
// the comma-separated list of knowledge domains the validator reviews;
// empty means all domains.
type Validator struct {
	ID           uint   `gorm:"primarykey"`
	ValidatorID  string `gorm:"uniqueIndex;not null"`
	Stake        uint64 `gorm:"not null"`
	Reputation   float64
	Domains      string
	Active       bool `gorm:"index"`
	RegisteredAt time.Time
}

func (Validator) TableName() string {
	return "validator"
}
