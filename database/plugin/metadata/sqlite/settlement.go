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
)

// AddSettlement appends an entry to the settlement log
func (d *MetadataStoreSqlite) AddSettlement(
	settlement *models.Settlement,
	txn *gorm.DB,
) error {
	db := d.DB()
	if txn != nil {
		db = txn
	}
	if result := db.Create(settlement); result.Error != nil {
		return fmt.Errorf("failed to append settlement: %w", result.Error)
	}
	return nil
}

// GetSettlementsAfter lists settlement log entries with a sequence greater
// than the given value, in sequence order
func (d *MetadataStoreSqlite) GetSettlementsAfter(
	seq int64,
	txn *gorm.DB,
) ([]models.Settlement, error) {
	var ret []models.Settlement
	if txn == nil {
		txn = d.DB()
	}
	result := txn.Where("seq > ?", seq).
		Order("seq").
		Find(&ret)
	if result.Error != nil {
		return nil, result.Error
	}
	return ret, nil
}

// GetMaxSettlementSeq gets the highest sequence in the settlement log, or
// zero when the log is empty
func (d *MetadataStoreSqlite) GetMaxSettlementSeq(
	txn *gorm.DB,
) (int64, error) {
	ret := &models.Settlement{}
	if txn == nil {
		txn = d.DB()
	}
	result := txn.Order("seq desc").First(ret)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, result.Error
	}
	return ret.Seq, nil
}
