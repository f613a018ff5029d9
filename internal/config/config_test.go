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

package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func resetGlobalConfig() {
	globalConfig = defaultConfigForTest()
}

func defaultConfigForTest() *Config {
	return &Config{
		BlobPlugin:      DefaultBlobPlugin,
		MetadataPlugin:  DefaultMetadataPlugin,
		DatabasePath:    ".kex",
		BindAddr:        "0.0.0.0",
		ApiPort:         3000,
		MetricsPort:     12798,
		ShutdownTimeout: DefaultShutdownTimeout,
	}
}

func TestLoad_CompareFullStruct(t *testing.T) {
	resetGlobalConfig()
	yamlContent := `
databasePath: ".kex-test"
bindAddr: "127.0.0.1"
apiPort: 8088
metricsPort: 9090
quorumTarget: 7
minimumQuorum: 5
acceptanceThreshold: 0.6
qualityBar: 0.7
voteDeadline: "2m"
minimumStake: 500
poolScale: 250
cycleInterval: "60s"
maxPayloadBytes: 1048576
`

	tmpDir := t.TempDir()
	tmpFile := filepath.Join(tmpDir, "test-kex.yaml")

	err := os.WriteFile(tmpFile, []byte(yamlContent), 0644)
	if err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	defer os.Remove(tmpFile)

	expected := defaultConfigForTest()
	expected.DatabasePath = ".kex-test"
	expected.BindAddr = "127.0.0.1"
	expected.ApiPort = 8088
	expected.MetricsPort = 9090
	expected.QuorumTarget = 7
	expected.MinimumQuorum = 5
	expected.AcceptanceThreshold = 0.6
	expected.QualityBar = 0.7
	expected.VoteDeadline = "2m"
	expected.MinimumStake = 500
	expected.PoolScale = 250
	expected.CycleInterval = "60s"
	expected.MaxPayloadBytes = 1048576

	actual, err := LoadConfig(tmpFile)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if !reflect.DeepEqual(actual, expected) {
		t.Errorf(
			"Loaded config does not match expected.\nActual: %+v\nExpected: %+v",
			actual,
			expected,
		)
	}
}

func TestLoad_ConfigSection(t *testing.T) {
	resetGlobalConfig()
	yamlContent := `
config:
  apiPort: 4000
  quorumTarget: 9
database:
  blob:
    plugin: badger
`

	tmpDir := t.TempDir()
	tmpFile := filepath.Join(tmpDir, "test-kex.yaml")

	err := os.WriteFile(tmpFile, []byte(yamlContent), 0644)
	if err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	actual, err := LoadConfig(tmpFile)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	if actual.ApiPort != 4000 {
		t.Errorf("expected apiPort 4000, got %d", actual.ApiPort)
	}
	if actual.QuorumTarget != 9 {
		t.Errorf("expected quorumTarget 9, got %d", actual.QuorumTarget)
	}
	if actual.BlobPlugin != "badger" {
		t.Errorf("expected blob plugin badger, got %s", actual.BlobPlugin)
	}
	// Unset values keep their defaults
	if actual.MetricsPort != 12798 {
		t.Errorf("expected default metrics port, got %d", actual.MetricsPort)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	resetGlobalConfig()
	t.Setenv("KEX_PORT", "5001")
	t.Setenv("KEX_MINIMUM_STAKE", "750")

	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	if cfg.ApiPort != 5001 {
		t.Errorf("expected apiPort 5001, got %d", cfg.ApiPort)
	}
	if cfg.MinimumStake != 750 {
		t.Errorf("expected minimumStake 750, got %d", cfg.MinimumStake)
	}
}

func TestParseCmdlineArgs(t *testing.T) {
	cfg := defaultConfigForTest()
	err := cfg.ParseCmdlineArgs("kexd", []string{"-blob", "gcs"})
	if err != nil {
		t.Fatalf("failed to parse args: %v", err)
	}
	if cfg.BlobPlugin != "gcs" {
		t.Errorf("expected blob plugin gcs, got %s", cfg.BlobPlugin)
	}
}

func TestContextRoundTrip(t *testing.T) {
	cfg := defaultConfigForTest()
	ctx := WithContext(t.Context(), cfg)
	if FromContext(ctx) != cfg {
		t.Error("expected config from context to match")
	}
	if FromContext(t.Context()) != nil {
		t.Error("expected nil config from empty context")
	}
}
