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

// AddLineageEdges saves the lineage edges declared by a submission. All
// edges are inserted together so a failed submission leaves no partial
// lineage behind.
func (d *MetadataStoreSqlite) AddLineageEdges(
	edges []models.LineageEdge,
	txn *gorm.DB,
) error {
	if len(edges) == 0 {
		return nil
	}
	db := d.DB()
	if txn != nil {
		db = txn
	}
	if result := db.Create(&edges); result.Error != nil {
		return fmt.Errorf("failed to add lineage edges: %w", result.Error)
	}
	return nil
}

// GetParentEdges gets the edges from a child artifact to its declared parents
func (d *MetadataStoreSqlite) GetParentEdges(
	childId []byte,
	txn *gorm.DB,
) ([]models.LineageEdge, error) {
	var ret []models.LineageEdge
	if txn == nil {
		txn = d.DB()
	}
	result := txn.Where("child_id = ?", childId).
		Order("parent_id").
		Find(&ret)
	if result.Error != nil {
		return nil, result.Error
	}
	return ret, nil
}

// GetChildEdges gets the edges from a parent artifact to its derived children
func (d *MetadataStoreSqlite) GetChildEdges(
	parentId []byte,
	txn *gorm.DB,
) ([]models.LineageEdge, error) {
	var ret []models.LineageEdge
	if txn == nil {
		txn = d.DB()
	}
	result := txn.Where("parent_id = ?", parentId).
		Order("child_id").
		Find(&ret)
	if result.Error != nil {
		return nil, result.Error
	}
	return ret, nil
}
