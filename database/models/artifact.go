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

// Artifact is the metadata record for a knowledge artifact. The payload
// itself lives in the blob store keyed by ArtifactID.
type Artifact struct {
	ID          uint   `gorm:"primarykey"`
	ArtifactID  []byte `gorm:"size:32;uniqueIndex;not null"`
	Submitter   string `gorm:"index;not null"`
	Domain      string `gorm:"index;not null"`
	Version     string `gorm:"not null"`
	Status      string `gorm:"index;not null"`
	PayloadSize uint64
	SubmittedAt time.Time
	ReviewedAt  *time.Time
}

func (Artifact) TableName() string {
	return "artifact"
}
