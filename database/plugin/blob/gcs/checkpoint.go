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

package gcs

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math/big"

	"cloud.google.com/go/storage"

	kexsops "github.com/parentheses-network/kex/database/sops"
	"github.com/parentheses-network/kex/database/types"
)

// The settlement checkpoint is SOPS-encrypted at rest since the bucket may
// be shared with external settlement tooling.
func (d *BlobStoreGCS) GetCheckpoint() (int64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	r, err := d.bucket.Object(types.CheckpointKey).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return 0, nil
		}
		d.logger.Errorf("failed to read settlement checkpoint: %v", err)
		return 0, err
	}
	defer r.Close()

	ciphertext, err := io.ReadAll(r)
	if err != nil {
		d.logger.Errorf("failed to read settlement checkpoint object: %v", err)
		return 0, err
	}

	plaintext, err := kexsops.Decrypt(ciphertext)
	if err != nil {
		if !json.Valid(ciphertext) && len(ciphertext) <= 8 {
			seq := new(big.Int).SetBytes(ciphertext).Int64()
			d.logger.Warningf(
				"settlement checkpoint stored plaintext in GCS, migrating to SOPS encryption: %v",
				err,
			)
			if migrateErr := d.SetCheckpoint(seq); migrateErr != nil {
				d.logger.Errorf(
					"failed to migrate plaintext settlement checkpoint: %v",
					migrateErr,
				)
			}
			return seq, nil
		}
		d.logger.Errorf("failed to decrypt settlement checkpoint: %v", err)
		return 0, err
	}

	return new(big.Int).SetBytes(plaintext).Int64(), nil
}

func (d *BlobStoreGCS) SetCheckpoint(seq int64) error {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	raw := new(big.Int).SetInt64(seq).Bytes()

	ciphertext, err := kexsops.Encrypt(raw)
	if err != nil {
		d.logger.Errorf("failed to encrypt settlement checkpoint: %v", err)
		return err
	}

	w := d.bucket.Object(types.CheckpointKey).NewWriter(ctx)
	if _, err := w.Write(ciphertext); err != nil {
		_ = w.Close()
		d.logger.Errorf("failed to write settlement checkpoint: %v", err)
		return err
	}
	if err := w.Close(); err != nil {
		d.logger.Errorf("failed to close writer: %v", err)
		return err
	}
	d.logger.Infof("settlement checkpoint %d written to GCS", seq)
	return nil
}
