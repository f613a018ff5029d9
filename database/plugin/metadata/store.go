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

package metadata

import (
	"log/slog"

	"github.com/parentheses-network/kex/database/models"
	"github.com/parentheses-network/kex/database/plugin/metadata/sqlite"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"
)

type MetadataStore interface {
	// Database
	Close() error
	DB() *gorm.DB
	Transaction() *gorm.DB

	// Artifacts
	AddArtifact(*models.Artifact, *gorm.DB) error
	GetArtifact(
		[]byte, // artifactId
		*gorm.DB,
	) (*models.Artifact, error)
	SetArtifactStatus(
		[]byte, // artifactId
		string, // status
		*gorm.DB,
	) error
	GetArtifactsByStatus(string, *gorm.DB) ([]models.Artifact, error)
	GetArtifactsByDomain(string, *gorm.DB) ([]models.Artifact, error)
	GetArtifactsBySubmitter(string, *gorm.DB) ([]models.Artifact, error)

	// Lineage
	AddLineageEdges([]models.LineageEdge, *gorm.DB) error
	GetParentEdges(
		[]byte, // childId
		*gorm.DB,
	) ([]models.LineageEdge, error)
	GetChildEdges(
		[]byte, // parentId
		*gorm.DB,
	) ([]models.LineageEdge, error)

	// Validators
	UpsertValidator(*models.Validator, *gorm.DB) error
	GetValidator(string, *gorm.DB) (*models.Validator, error)
	GetValidators(
		bool, // activeOnly
		*gorm.DB,
	) ([]models.Validator, error)

	// Consensus rounds
	AddConsensusRound(*models.ConsensusRound, *gorm.DB) error
	GetConsensusRounds(
		[]byte, // artifactId
		*gorm.DB,
	) ([]models.ConsensusRound, error)

	// Rewards
	AddRewardShares([]models.RewardShare, *gorm.DB) error
	GetRewardShares(
		[]byte, // artifactId
		*gorm.DB,
	) ([]models.RewardShare, error)
	GetRewardTotals(
		int, // limit, 0 for all
		*gorm.DB,
	) ([]sqlite.RewardTotal, error)

	// Settlement log
	AddSettlement(*models.Settlement, *gorm.DB) error
	GetSettlementsAfter(
		int64, // seq
		*gorm.DB,
	) ([]models.Settlement, error)
	GetMaxSettlementSeq(*gorm.DB) (int64, error)
}

// For now, this always returns a sqlite plugin
func New(
	pluginName, dataDir string,
	logger *slog.Logger,
	promRegistry prometheus.Registerer,
) (MetadataStore, error) {
	return sqlite.New(dataDir, logger, promRegistry)
}
