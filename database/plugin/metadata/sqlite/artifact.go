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
	"time"

	"github.com/parentheses-network/kex/database/models"
	"gorm.io/gorm"
)

// AddArtifact saves a new artifact record
func (d *MetadataStoreSqlite) AddArtifact(
	artifact *models.Artifact,
	txn *gorm.DB,
) error {
	db := d.DB()
	if txn != nil {
		db = txn
	}
	if result := db.Create(artifact); result.Error != nil {
		return fmt.Errorf("failed to add artifact: %w", result.Error)
	}
	return nil
}

// GetArtifact gets an artifact by its content identifier
func (d *MetadataStoreSqlite) GetArtifact(
	artifactId []byte,
	txn *gorm.DB,
) (*models.Artifact, error) {
	ret := &models.Artifact{}
	if txn == nil {
		txn = d.DB()
	}
	result := txn.Where("artifact_id = ?", artifactId).First(ret)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return ret, nil
}

// SetArtifactStatus updates the status of an existing artifact and stamps
// the review time
func (d *MetadataStoreSqlite) SetArtifactStatus(
	artifactId []byte,
	status string,
	txn *gorm.DB,
) error {
	db := d.DB()
	if txn != nil {
		db = txn
	}
	now := time.Now()
	result := db.Model(&models.Artifact{}).
		Where("artifact_id = ?", artifactId).
		Updates(map[string]interface{}{
			"status":      status,
			"reviewed_at": &now,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to update artifact status: %w", result.Error)
	}
	return nil
}

// GetArtifactsByStatus lists artifacts with the given status
func (d *MetadataStoreSqlite) GetArtifactsByStatus(
	status string,
	txn *gorm.DB,
) ([]models.Artifact, error) {
	var ret []models.Artifact
	if txn == nil {
		txn = d.DB()
	}
	result := txn.Where("status = ?", status).
		Order("submitted_at").
		Find(&ret)
	if result.Error != nil {
		return nil, result.Error
	}
	return ret, nil
}

// GetArtifactsByDomain lists artifacts in the given knowledge domain
func (d *MetadataStoreSqlite) GetArtifactsByDomain(
	domain string,
	txn *gorm.DB,
) ([]models.Artifact, error) {
	var ret []models.Artifact
	if txn == nil {
		txn = d.DB()
	}
	result := txn.Where("domain = ?", domain).
		Order("submitted_at").
		Find(&ret)
	if result.Error != nil {
		return nil, result.Error
	}
	return ret, nil
}

// GetArtifactsBySubmitter lists artifacts submitted by the given participant
func (d *MetadataStoreSqlite) GetArtifactsBySubmitter(
	submitter string,
	txn *gorm.DB,
) ([]models.Artifact, error) {
	var ret []models.Artifact
	if txn == nil {
		txn = d.DB()
	}
	result := txn.Where("submitter = ?", submitter).
		Order("submitted_at").
		Find(&ret)
	if result.Error != nil {
		return nil, result.Error
	}
	return ret, nil
}
