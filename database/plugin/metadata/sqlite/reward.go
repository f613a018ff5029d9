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

// RewardTotal is the aggregate reward earned by one participant
type RewardTotal struct {
	Recipient string
	Total     uint64
}

// AddRewardShares saves the reward allocation computed for an artifact
func (d *MetadataStoreSqlite) AddRewardShares(
	shares []models.RewardShare,
	txn *gorm.DB,
) error {
	if len(shares) == 0 {
		return nil
	}
	db := d.DB()
	if txn != nil {
		db = txn
	}
	if result := db.Create(&shares); result.Error != nil {
		return fmt.Errorf("failed to add reward shares: %w", result.Error)
	}
	return nil
}

// GetRewardShares gets the reward allocation recorded for an artifact
func (d *MetadataStoreSqlite) GetRewardShares(
	artifactId []byte,
	txn *gorm.DB,
) ([]models.RewardShare, error) {
	var ret []models.RewardShare
	if txn == nil {
		txn = d.DB()
	}
	result := txn.Where("artifact_id = ?", artifactId).
		Order("depth, recipient").
		Find(&ret)
	if result.Error != nil {
		return nil, result.Error
	}
	return ret, nil
}

// GetRewardTotals aggregates earned rewards per participant, highest first.
// A limit of 0 returns all participants.
func (d *MetadataStoreSqlite) GetRewardTotals(
	limit int,
	txn *gorm.DB,
) ([]RewardTotal, error) {
	var ret []RewardTotal
	if txn == nil {
		txn = d.DB()
	}
	query := txn.Model(&models.RewardShare{}).
		Select("recipient, sum(amount) as total").
		Group("recipient").
		Order("total desc, recipient")
	if limit > 0 {
		query = query.Limit(limit)
	}
	result := query.Scan(&ret)
	if result.Error != nil {
		return nil, result.Error
	}
	return ret, nil
}
