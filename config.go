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
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Config struct {
	promRegistry     prometheus.Registerer
	logger           *slog.Logger
	dataDir          string
	blobPlugin       string
	metadataPlugin   string
	keystoreDir      string
	signingIdentity  string
	apiListenAddress string
	encryptKeys      bool
	// Consensus parameters (0 = use protocol default)
	quorumTarget        int
	minimumQuorum       int
	acceptanceThreshold float64
	qualityBar          float64
	scoreTolerance      float64
	voteDeadline        time.Duration
	// Validator parameters
	minimumStake   uint64
	reputationRate float64
	// Reward parameters
	poolScale      float64
	poolExponent   float64
	submitterShare float64
	ancestorDecay  float64
	// Exchange parameters
	cycleInterval   time.Duration
	maxPayloadBytes uint64
	maxLineageDepth uint
	tracing         bool
	tracingStdout   bool
	shutdownTimeout time.Duration
}

// configValidate catches parameter combinations that the individual
// components can't see on their own
func (n *Node) configValidate() error {
	c := n.config
	if c.minimumQuorum > 0 && c.quorumTarget > 0 &&
		c.minimumQuorum > c.quorumTarget {
		return errors.New("minimum quorum cannot exceed quorum target")
	}
	if c.acceptanceThreshold < 0 || c.acceptanceThreshold >= 1 {
		return errors.New("acceptance threshold must be within [0, 1)")
	}
	if c.qualityBar < 0 || c.qualityBar >= 1 {
		return errors.New("quality bar must be within [0, 1)")
	}
	if c.submitterShare < 0 || c.submitterShare > 1 {
		return errors.New("submitter share must be within [0, 1]")
	}
	if c.signingIdentity != "" && c.keystoreDir == "" {
		return errors.New("signing identity requires a keystore directory")
	}
	return nil
}

// ConfigOptionFunc is a type that represents functions that modify the node config
type ConfigOptionFunc func(*Config)

// NewConfig creates a new kex config with the specified options
func NewConfig(opts ...ConfigOptionFunc) Config {
	c := Config{
		// Default logger will throw away logs
		// We do this so we don't have to add guards around every log operation
		logger: slog.New(slog.NewJSONHandler(io.Discard, nil)),
	}
	// Apply options
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// WithDatabasePath specifies the persistent data directory. The default is to use a temporary directory
func WithDatabasePath(dataDir string) ConfigOptionFunc {
	return func(c *Config) {
		c.dataDir = dataDir
	}
}

// WithBlobPlugin specifies the blob database plugin name
func WithBlobPlugin(plugin string) ConfigOptionFunc {
	return func(c *Config) {
		c.blobPlugin = plugin
	}
}

// WithMetadataPlugin specifies the metadata database plugin name
func WithMetadataPlugin(plugin string) ConfigOptionFunc {
	return func(c *Config) {
		c.metadataPlugin = plugin
	}
}

// WithKeystoreDir specifies the directory holding signing key files
func WithKeystoreDir(dir string) ConfigOptionFunc {
	return func(c *Config) {
		c.keystoreDir = dir
	}
}

// WithEncryptKeys enables sops encryption for generated key files. This requires KMS configuration in the environment
func WithEncryptKeys(encrypt bool) ConfigOptionFunc {
	return func(c *Config) {
		c.encryptKeys = encrypt
	}
}

// WithSigningIdentity names the keystore identity used to sign settlement log entries. The identity
// is generated on first run if the named one doesn't exist yet
func WithSigningIdentity(id string) ConfigOptionFunc {
	return func(c *Config) {
		c.signingIdentity = id
	}
}

// WithApiListenAddress specifies the listen address for the REST API
func WithApiListenAddress(address string) ConfigOptionFunc {
	return func(c *Config) {
		c.apiListenAddress = address
	}
}

// WithLogger specifies the logger to use. This defaults to discarding log output
func WithLogger(logger *slog.Logger) ConfigOptionFunc {
	return func(c *Config) {
		c.logger = logger
	}
}

// WithPrometheusRegistry specifies a prometheus.Registerer instance to register metrics with
func WithPrometheusRegistry(registry prometheus.Registerer) ConfigOptionFunc {
	return func(c *Config) {
		c.promRegistry = registry
	}
}

// WithQuorumTarget specifies how many validators are sampled into each validation round
func WithQuorumTarget(target int) ConfigOptionFunc {
	return func(c *Config) {
		c.quorumTarget = target
	}
}

// WithMinimumQuorum specifies the minimum number of votes required to finalize a validation round
func WithMinimumQuorum(quorum int) ConfigOptionFunc {
	return func(c *Config) {
		c.minimumQuorum = quorum
	}
}

// WithAcceptanceThreshold specifies the weighted accept fraction a round must strictly exceed
// for the artifact to be accepted
func WithAcceptanceThreshold(threshold float64) ConfigOptionFunc {
	return func(c *Config) {
		c.acceptanceThreshold = threshold
	}
}

// WithQualityBar specifies the weighted mean accept score a round must strictly exceed
// for the artifact to be accepted
func WithQualityBar(bar float64) ConfigOptionFunc {
	return func(c *Config) {
		c.qualityBar = bar
	}
}

// WithScoreTolerance specifies how far a vote's score may sit from the round consensus
// before the validator's reputation is penalized
func WithScoreTolerance(tolerance float64) ConfigOptionFunc {
	return func(c *Config) {
		c.scoreTolerance = tolerance
	}
}

// WithVoteDeadline specifies how long a validation round accepts votes before it is swept
func WithVoteDeadline(deadline time.Duration) ConfigOptionFunc {
	return func(c *Config) {
		c.voteDeadline = deadline
	}
}

// WithMinimumStake specifies the stake required to register as a validator
func WithMinimumStake(stake uint64) ConfigOptionFunc {
	return func(c *Config) {
		c.minimumStake = stake
	}
}

// WithReputationRate specifies the smoothing rate for validator reputation updates
func WithReputationRate(rate float64) ConfigOptionFunc {
	return func(c *Config) {
		c.reputationRate = rate
	}
}

// WithPoolScale specifies the scale factor for sizing reward pools from quality scores
func WithPoolScale(scale float64) ConfigOptionFunc {
	return func(c *Config) {
		c.poolScale = scale
	}
}

// WithPoolExponent specifies the exponent applied to the quality score when sizing reward pools
func WithPoolExponent(exponent float64) ConfigOptionFunc {
	return func(c *Config) {
		c.poolExponent = exponent
	}
}

// WithSubmitterShare specifies the fraction of each reward pool paid to the artifact submitter
func WithSubmitterShare(share float64) ConfigOptionFunc {
	return func(c *Config) {
		c.submitterShare = share
	}
}

// WithAncestorDecay specifies the per-depth decay applied to ancestor reward weights
func WithAncestorDecay(decay float64) ConfigOptionFunc {
	return func(c *Config) {
		c.ancestorDecay = decay
	}
}

// WithCycleInterval specifies how often the exchange opens rounds for pending artifacts
// and sweeps expired ones
func WithCycleInterval(interval time.Duration) ConfigOptionFunc {
	return func(c *Config) {
		c.cycleInterval = interval
	}
}

// WithMaxPayloadBytes specifies the maximum accepted artifact payload size
func WithMaxPayloadBytes(maxBytes uint64) ConfigOptionFunc {
	return func(c *Config) {
		c.maxPayloadBytes = maxBytes
	}
}

// WithMaxLineageDepth bounds ancestor walks through the lineage graph. Zero means unbounded
func WithMaxLineageDepth(depth uint) ConfigOptionFunc {
	return func(c *Config) {
		c.maxLineageDepth = depth
	}
}

// WithTracing enables tracing. By default, spans are submitted to a HTTP(s) endpoint using OTLP. This can be configured
// using the OTEL_EXPORTER_OTLP_* env vars documented in the README for [go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp]
func WithTracing(tracing bool) ConfigOptionFunc {
	return func(c *Config) {
		c.tracing = tracing
	}
}

// WithTracingStdout enables tracing output to stdout. This also requires tracing to enabled separately. This is mostly useful for debugging
func WithTracingStdout(stdout bool) ConfigOptionFunc {
	return func(c *Config) {
		c.tracingStdout = stdout
	}
}

// WithShutdownTimeout specifies the timeout for graceful shutdown. This defaults to 30 seconds
func WithShutdownTimeout(timeout time.Duration) ConfigOptionFunc {
	return func(c *Config) {
		c.shutdownTimeout = timeout
	}
}
