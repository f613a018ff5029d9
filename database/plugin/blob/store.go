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

package blob

import (
	"fmt"
	"log/slog"

	"github.com/parentheses-network/kex/database/plugin"
	"github.com/parentheses-network/kex/database/plugin/blob/badger"
	"github.com/parentheses-network/kex/database/plugin/blob/gcs"
	"github.com/prometheus/client_golang/prometheus"
)

// BlobStore is the interface for content-addressed artifact payload storage.
// Payloads are immutable once written; the checkpoint records the last
// settlement sequence durably handed off, so a restarted node can resume
// without replaying settled artifacts.
type BlobStore interface {
	Close() error

	// Payload storage, keyed by content digest
	PutPayload(digest []byte, data []byte) error
	GetPayload(digest []byte) ([]byte, error)
	HasPayload(digest []byte) (bool, error)

	// Settlement checkpoint
	GetCheckpoint() (int64, error)
	SetCheckpoint(int64) error
}

// New returns the started blob plugin selected by name
func New(pluginName string) (BlobStore, error) {
	p, err := plugin.StartPlugin(plugin.PluginTypeBlob, pluginName)
	if err != nil {
		return nil, err
	}
	blobStore, ok := p.(BlobStore)
	if !ok {
		return nil, fmt.Errorf(
			"plugin '%s' does not implement BlobStore interface",
			pluginName,
		)
	}
	return blobStore, nil
}

// NewDefault creates and starts the named blob store with explicit runtime
// configuration, bypassing the cmdline option plumbing. A dataDir with a
// gcs:// scheme selects the GCS store regardless of plugin name.
func NewDefault(
	pluginName, dataDir string,
	logger *slog.Logger,
	promRegistry prometheus.Registerer,
) (BlobStore, error) {
	var p plugin.Plugin
	var err error
	switch pluginName {
	case "", "badger":
		p, err = badger.New(
			badger.WithDataDir(dataDir),
			badger.WithLogger(logger),
			badger.WithPromRegistry(promRegistry),
		)
	case "gcs":
		p, err = gcs.New(dataDir, logger, promRegistry)
	default:
		return nil, fmt.Errorf("unknown blob plugin: %s", pluginName)
	}
	if err != nil {
		return nil, err
	}
	if err := p.Start(); err != nil {
		return nil, err
	}
	blobStore, ok := p.(BlobStore)
	if !ok {
		return nil, fmt.Errorf(
			"plugin '%s' does not implement BlobStore interface",
			pluginName,
		)
	}
	return blobStore, nil
}
