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

package badger

import (
	"crypto/sha256"
	"testing"

	"github.com/parentheses-network/kex/database/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *BlobStoreBadger {
	t.Helper()
	// In-memory store (no data dir), GC disabled to avoid background noise
	store, err := New(WithGc(false))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

func TestPayloadRoundTrip(t *testing.T) {
	store := newTestStore(t)
	payload := []byte("model weight delta")
	digest := sha256.Sum256(payload)

	require.NoError(t, store.PutPayload(digest[:], payload))

	got, err := store.GetPayload(digest[:])
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	exists, err := store.HasPayload(digest[:])
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestPayloadPutIdempotent(t *testing.T) {
	store := newTestStore(t)
	payload := []byte("adapter weights")
	digest := sha256.Sum256(payload)

	require.NoError(t, store.PutPayload(digest[:], payload))
	require.NoError(t, store.PutPayload(digest[:], payload))

	got, err := store.GetPayload(digest[:])
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestPayloadNotFound(t *testing.T) {
	store := newTestStore(t)
	digest := sha256.Sum256([]byte("missing"))

	_, err := store.GetPayload(digest[:])
	assert.ErrorIs(t, err, types.ErrKeyNotFound)

	exists, err := store.HasPayload(digest[:])
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestCheckpoint(t *testing.T) {
	store := newTestStore(t)

	// Unset checkpoint reads as zero
	cp, err := store.GetCheckpoint()
	require.NoError(t, err)
	assert.Equal(t, int64(0), cp)

	require.NoError(t, store.SetCheckpoint(42))
	cp, err = store.GetCheckpoint()
	require.NoError(t, err)
	assert.Equal(t, int64(42), cp)
}

func TestDiskBackedStore(t *testing.T) {
	dataDir := t.TempDir()
	store, err := New(WithDataDir(dataDir), WithGc(false))
	require.NoError(t, err)

	payload := []byte("distillation output")
	digest := sha256.Sum256(payload)
	require.NoError(t, store.PutPayload(digest[:], payload))
	require.NoError(t, store.Close())

	// Reopen and verify persistence
	store, err = New(WithDataDir(dataDir), WithGc(false))
	require.NoError(t, err)
	defer store.Close()
	got, err := store.GetPayload(digest[:])
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}
