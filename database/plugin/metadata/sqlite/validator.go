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
	"errors"
	"fmt"

	"github.com/parentheses-network/kex/database/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// UpsertValidator saves a validator record, replacing any existing record
// for the same validator identity
func (d *MetadataStoreSqlite) UpsertValidator(
	validator *models.Validator,
	txn *gorm.DB,
) error {
	db := d.DB()
	if txn != nil {
		db = txn
	}
	result := db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "validator_id"}},
		DoUpdates: clause.AssignmentColumns(
			[]string{"stake", "reputation", "domains", "active"},
		),
	}).Create(validator)
	if result.Error != nil {
		return fmt.Errorf("failed to upsert validator: %w", result.Error)
	}
	return nil
}

// GetValidator gets a validator by identity
func (d *MetadataStoreSqlite) GetValidator(
	validatorId string,
	txn *gorm.DB,
) (*models.Validator, error) {
	ret := &models.Validator{}
	if txn == nil {
		txn = d.DB()
	}
	result := txn.Where("validator_id = ?", validatorId).First(ret)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return ret, nil
}

// GetValidators lists validators, optionally restricted to active pool members
func (d *MetadataStoreSqlite) GetValidators(
	activeOnly bool,
	txn *gorm.DB,
) ([]models.Validator, error) {
	var ret []models.Validator
	if txn == nil {
		txn = d.DB()
	}
	query := txn.Order("validator_id")
	if activeOnly {
		query = query.Where("active = ?", true)
	}
	result := query.Find(&ret)
	if result.Error != nil {
		return nil, result.Error
	}
	return ret, nil
}
