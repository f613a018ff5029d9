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

package kex

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfigDefaults(t *testing.T) {
	cfg := NewConfig()
	assert.NotNil(t, cfg.logger)
	assert.Empty(t, cfg.dataDir)
	assert.Zero(t, cfg.quorumTarget)
	assert.Zero(t, cfg.cycleInterval)
}

func TestConfigOptions(t *testing.T) {
	cfg := NewConfig(
		WithDatabasePath("/tmp/kex-test"),
		WithBlobPlugin("badger"),
		WithMetadataPlugin("sqlite"),
		WithApiListenAddress(":4000"),
		WithQuorumTarget(7),
		WithMinimumQuorum(4),
		WithVoteDeadline(2*time.Minute),
		WithMinimumStake(500),
		WithCycleInterval(10*time.Second),
		WithShutdownTimeout(5*time.Second),
	)
	assert.Equal(t, "/tmp/kex-test", cfg.dataDir)
	assert.Equal(t, "badger", cfg.blobPlugin)
	assert.Equal(t, "sqlite", cfg.metadataPlugin)
	assert.Equal(t, ":4000", cfg.apiListenAddress)
	assert.Equal(t, 7, cfg.quorumTarget)
	assert.Equal(t, 4, cfg.minimumQuorum)
	assert.Equal(t, 2*time.Minute, cfg.voteDeadline)
	assert.Equal(t, uint64(500), cfg.minimumStake)
	assert.Equal(t, 10*time.Second, cfg.cycleInterval)
	assert.Equal(t, 5*time.Second, cfg.shutdownTimeout)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		opts    []ConfigOptionFunc
		wantErr string
	}{
		{
			name: "defaults",
			opts: nil,
		},
		{
			name: "quorum inversion",
			opts: []ConfigOptionFunc{
				WithQuorumTarget(3),
				WithMinimumQuorum(5),
			},
			wantErr: "minimum quorum cannot exceed quorum target",
		},
		{
			name: "acceptance threshold out of range",
			opts: []ConfigOptionFunc{
				WithAcceptanceThreshold(1.0),
			},
			wantErr: "acceptance threshold must be within [0, 1)",
		},
		{
			name: "submitter share out of range",
			opts: []ConfigOptionFunc{
				WithSubmitterShare(1.5),
			},
			wantErr: "submitter share must be within [0, 1]",
		},
		{
			name: "signing identity without keystore",
			opts: []ConfigOptionFunc{
				WithSigningIdentity("abcdef"),
			},
			wantErr: "signing identity requires a keystore directory",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := New(NewConfig(tt.opts...))
			if tt.wantErr == "" {
				require.NoError(t, err)
				require.NotNil(t, n)
			} else {
				require.ErrorContains(t, err, tt.wantErr)
			}
		})
	}
}
