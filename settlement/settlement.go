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

package settlement

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/parentheses-network/kex/artifact"
	"github.com/parentheses-network/kex/consensus"
	"github.com/parentheses-network/kex/database"
	"github.com/parentheses-network/kex/database/models"
	"github.com/parentheses-network/kex/event"
	"github.com/parentheses-network/kex/identity"
	"github.com/parentheses-network/kex/reward"
)

const (
	RecordedEventType event.EventType = "settlement.recorded"
)

// RecordedEvent is the event data for a recorded settlement
type RecordedEvent struct {
	Record Record
}

var (
	ErrAlreadySettled = errors.New("round already settled")
)

// Record describes one entry in the settlement log
type Record struct {
	Seq        int64
	Artifact   artifact.ArtifactID
	Outcome    consensus.Outcome
	PoolAmount uint64
	TxRef      string
	SettledAt  time.Time
}

// LedgerConfig is the configuration for a settlement ledger
type LedgerConfig struct {
	PromRegistry prometheus.Registerer
	Logger       *slog.Logger
	EventBus     *event.EventBus
	Database     *database.Database
	// Signer, when set, signs each entry's digest so the log entry carries
	// an attributable transaction reference
	Signer identity.Signer
}

// Ledger records reward allocations for finalized consensus rounds in an
// append-only log. Each entry gets a monotonic sequence which is mirrored
// into the blob store checkpoint, so a restore from metadata alone can
// detect how far settlement had progressed.
type Ledger struct {
	config   LedgerConfig
	logger   *slog.Logger
	eventBus *event.EventBus
	db       *database.Database

	// Serializes sequence assignment across concurrent settlements
	settleMutex sync.Mutex

	metrics struct {
		settlementsTotal prometheus.Counter
		amountTotal      prometheus.Counter
	}
}

// NewLedger creates a new settlement ledger with the provided configuration
func NewLedger(config LedgerConfig) *Ledger {
	l := &Ledger{
		config:   config,
		logger:   config.Logger,
		eventBus: config.EventBus,
		db:       config.Database,
	}
	if config.Logger == nil {
		// Create logger to throw away logs
		// We do this so we don't have to add guards around every log operation
		l.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	promautoFactory := promauto.With(config.PromRegistry)
	l.metrics.settlementsTotal = promautoFactory.NewCounter(
		prometheus.CounterOpts{
			Name: "kex_settlement_records_total",
			Help: "total settlement log entries recorded",
		},
	)
	l.metrics.amountTotal = promautoFactory.NewCounter(
		prometheus.CounterOpts{
			Name: "kex_settlement_amount_total",
			Help: "total reward amount recorded across settlements",
		},
	)
	return l
}

// txRef derives a stable reference for a settlement entry from its sequence,
// round, and allocation content. With a signer configured the reference is
// the node's signature over the digest; otherwise it is the digest itself.
func (l *Ledger) txRef(
	seq int64,
	result consensus.Result,
	alloc reward.Allocation,
) string {
	h := sha256.New()
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(seq))
	h.Write(buf[:])
	h.Write(result.Round.Artifact.Bytes())
	binary.BigEndian.PutUint64(buf[:], result.Round.Seq)
	h.Write(buf[:])
	for _, share := range alloc.Shares {
		h.Write([]byte(share.Recipient))
		binary.BigEndian.PutUint64(buf[:], share.Amount)
		h.Write(buf[:])
	}
	digest := h.Sum(nil)
	if l.config.Signer != nil {
		return hex.EncodeToString(l.config.Signer.Sign(digest))
	}
	return hex.EncodeToString(digest)
}

// Settle records a finalized round's reward allocation. The reward shares
// and the settlement log entry are written in one transaction, and the blob
// store checkpoint is advanced to the new sequence afterward. Rejected and
// aborted rounds may be settled with an empty allocation to mark the round
// as handled.
func (l *Ledger) Settle(
	result consensus.Result,
	alloc reward.Allocation,
) (Record, error) {
	l.settleMutex.Lock()
	defer l.settleMutex.Unlock()
	maxSeq, err := l.db.Metadata().GetMaxSettlementSeq(nil)
	if err != nil {
		return Record{}, fmt.Errorf("failed to read settlement log: %w", err)
	}
	seq := maxSeq + 1
	record := Record{
		Seq:        seq,
		Artifact:   result.Round.Artifact,
		Outcome:    result.Outcome,
		PoolAmount: alloc.Pool,
		SettledAt:  time.Now().UTC(),
	}
	record.TxRef = l.txRef(seq, result, alloc)
	txn := l.db.Metadata().Transaction()
	shares := make([]models.RewardShare, 0, len(alloc.Shares))
	for _, share := range alloc.Shares {
		shares = append(
			shares,
			models.RewardShare{
				ArtifactID: result.Round.Artifact.Bytes(),
				Recipient:  share.Recipient,
				Role:       string(share.Role),
				Amount:     share.Amount,
				Depth:      share.Depth,
			},
		)
	}
	if len(shares) > 0 {
		if err := l.db.Metadata().AddRewardShares(shares, txn); err != nil {
			txn.Rollback()
			return Record{}, err
		}
	}
	err = l.db.Metadata().AddSettlement(
		&models.Settlement{
			Seq:        record.Seq,
			ArtifactID: record.Artifact[:],
			Outcome:    record.Outcome.String(),
			PoolAmount: record.PoolAmount,
			TxRef:      record.TxRef,
			SettledAt:  record.SettledAt,
		},
		txn,
	)
	if err != nil {
		txn.Rollback()
		return Record{}, err
	}
	if err := txn.Commit().Error; err != nil {
		return Record{}, fmt.Errorf("failed to commit settlement: %w", err)
	}
	// The checkpoint trails the log: a crash here leaves the checkpoint one
	// behind, which Recover treats as already settled
	if err := l.db.Blob().SetCheckpoint(seq); err != nil {
		l.logger.Warn(
			"failed to update settlement checkpoint",
			"component", "settlement",
			"error", err,
		)
	}
	l.metrics.settlementsTotal.Inc()
	l.metrics.amountTotal.Add(float64(alloc.Pool))
	l.logger.Info(
		"recorded settlement",
		"component", "settlement",
		"seq", record.Seq,
		"artifact", result.Round.Artifact.String(),
		"outcome", record.Outcome.String(),
		"pool", record.PoolAmount,
	)
	if l.eventBus != nil {
		l.eventBus.Publish(
			RecordedEventType,
			event.NewEvent(
				RecordedEventType,
				RecordedEvent{Record: record},
			),
		)
	}
	return record, nil
}

// History lists settlement records with a sequence greater than the given
// value, in sequence order
func (l *Ledger) History(afterSeq int64) ([]Record, error) {
	entries, err := l.db.Metadata().GetSettlementsAfter(afterSeq, nil)
	if err != nil {
		return nil, err
	}
	ret := make([]Record, 0, len(entries))
	for _, entry := range entries {
		record := Record{
			Seq:        entry.Seq,
			Outcome:    outcomeFromString(entry.Outcome),
			PoolAmount: entry.PoolAmount,
			TxRef:      entry.TxRef,
			SettledAt:  entry.SettledAt,
		}
		copy(record.Artifact[:], entry.ArtifactID)
		ret = append(ret, record)
	}
	return ret, nil
}

// Recover compares the settlement log against the blob store checkpoint and
// returns any entries recorded after the checkpoint was last advanced. A
// non-empty result means the process previously crashed between committing
// the log and updating the checkpoint.
func (l *Ledger) Recover() ([]Record, error) {
	checkpoint, err := l.db.Blob().GetCheckpoint()
	if err != nil {
		return nil, fmt.Errorf(
			"failed to read settlement checkpoint: %w",
			err,
		)
	}
	trailing, err := l.History(checkpoint)
	if err != nil {
		return nil, err
	}
	if len(trailing) > 0 {
		last := trailing[len(trailing)-1].Seq
		if err := l.db.Blob().SetCheckpoint(last); err != nil {
			return nil, fmt.Errorf(
				"failed to advance settlement checkpoint: %w",
				err,
			)
		}
		l.logger.Info(
			"advanced settlement checkpoint",
			"component", "settlement",
			"from", checkpoint,
			"to", last,
		)
	}
	return trailing, nil
}

func outcomeFromString(s string) consensus.Outcome {
	for _, outcome := range []consensus.Outcome{
		consensus.OutcomeAccepted,
		consensus.OutcomeRejected,
		consensus.OutcomeAborted,
	} {
		if outcome.String() == s {
			return outcome
		}
	}
	return consensus.OutcomeUnknown
}
