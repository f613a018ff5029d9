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

package sqlite

import (
	"fmt"

	"github.com/parentheses-network/kex/database/models"
	"gorm.io/gorm"
)

// AddConsensusRound archives a closed round along with its votes
func (d *MetadataStoreSqlite) AddConsensusRound(
	round *models.ConsensusRound,
	txn *gorm.DB,
) error {
	db := d.DB()
	if txn != nil {
		db = txn
	}
	if result := db.Create(round); result.Error != nil {
		return fmt.Errorf("failed to archive consensus round: %w", result.Error)
	}
	return nil
}

// GetConsensusRounds lists the archived rounds for an artifact in sequence order
func (d *MetadataStoreSqlite) GetConsensusRounds(
	artifactId []byte,
	txn *gorm.DB,
) ([]models.ConsensusRound, error) {
	var ret []models.ConsensusRound
	if txn == nil {
		txn = d.DB()
	}
	result := txn.Where("artifact_id = ?", artifactId).
		Preload("Votes").
		Order("seq").
		Find(&ret)
	if result.Error != nil {
		return nil, result.Error
	}
	return ret, nil
}
