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
	"context"
	"errors"
	"flag"
	"fmt"
	"maps"
	"os"
	"path/filepath"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/parentheses-network/kex/database/plugin"
)

type ctxKey string

const configContextKey ctxKey = "kex.config"

const DefaultShutdownTimeout = "30s"

func WithContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, configContextKey, cfg)
}

func FromContext(ctx context.Context) *Config {
	cfg, ok := ctx.Value(configContextKey).(*Config)
	if !ok {
		return nil
	}
	return cfg
}

const (
	DefaultBlobPlugin     = "badger"
	DefaultMetadataPlugin = "sqlite"
)

// ErrPluginListRequested is returned when the user requests to list available plugins
// This is not an error condition but a successful operation that displays plugin information
var ErrPluginListRequested = errors.New("plugin list requested")

type tempConfig struct {
	Config   *Config                   `yaml:"config,omitempty"`
	Database *databaseConfig           `yaml:"database,omitempty"`
	Blob     map[string]map[string]any `yaml:"blob,omitempty"`
	Metadata map[string]map[string]any `yaml:"metadata,omitempty"`
}

type databaseConfig struct {
	Blob     map[string]any `yaml:"blob,omitempty"`
	Metadata map[string]any `yaml:"metadata,omitempty"`
}

type Config struct {
	MetadataPlugin  string `yaml:"metadataPlugin"  envconfig:"KEX_DATABASE_METADATA_PLUGIN"`
	BlobPlugin      string `yaml:"blobPlugin"      envconfig:"KEX_DATABASE_BLOB_PLUGIN"`
	DatabasePath    string `yaml:"databasePath"                                            split_words:"true"`
	KeystoreDir     string `yaml:"keystoreDir"                                             split_words:"true"`
	EncryptKeys     bool   `yaml:"encryptKeys"                                             split_words:"true"`
	SigningIdentity string `yaml:"signingIdentity"                                         split_words:"true"`
	BindAddr        string `yaml:"bindAddr"                                                split_words:"true"`
	ApiPort         uint   `yaml:"apiPort"         envconfig:"port"`
	MetricsPort     uint   `yaml:"metricsPort"                                             split_words:"true"`
	ShutdownTimeout string `yaml:"shutdownTimeout"                                         split_words:"true"`

	// Consensus parameters
	QuorumTarget        int     `yaml:"quorumTarget"        split_words:"true"`
	MinimumQuorum       int     `yaml:"minimumQuorum"       split_words:"true"`
	AcceptanceThreshold float64 `yaml:"acceptanceThreshold" split_words:"true"`
	QualityBar          float64 `yaml:"qualityBar"          split_words:"true"`
	ScoreTolerance      float64 `yaml:"scoreTolerance"      split_words:"true"`
	VoteDeadline        string  `yaml:"voteDeadline"        split_words:"true"`

	// Validator parameters
	MinimumStake   uint64  `yaml:"minimumStake"   split_words:"true"`
	ReputationRate float64 `yaml:"reputationRate" split_words:"true"`

	// Reward parameters
	PoolScale      float64 `yaml:"poolScale"      split_words:"true"`
	PoolExponent   float64 `yaml:"poolExponent"   split_words:"true"`
	SubmitterShare float64 `yaml:"submitterShare" split_words:"true"`
	AncestorDecay  float64 `yaml:"ancestorDecay"  split_words:"true"`

	// Exchange parameters
	CycleInterval   string `yaml:"cycleInterval"   split_words:"true"`
	MaxPayloadBytes uint64 `yaml:"maxPayloadBytes" split_words:"true"`
	MaxLineageDepth uint   `yaml:"maxLineageDepth" split_words:"true"`
}

func (c *Config) ParseCmdlineArgs(programName string, args []string) error {
	fs := flag.NewFlagSet(programName, flag.ExitOnError)
	fs.StringVar(
		&c.BlobPlugin,
		"blob",
		DefaultBlobPlugin,
		"blob store plugin to use, 'list' to show available",
	)
	fs.StringVar(
		&c.MetadataPlugin,
		"metadata",
		DefaultMetadataPlugin,
		"metadata store plugin to use, 'list' to show available",
	)
	if err := fs.Parse(args); err != nil {
		return err
	}

	// Handle plugin listing
	if c.BlobPlugin == "list" {
		fmt.Println("Available blob plugins:")
		blobPlugins := plugin.GetPlugins(plugin.PluginTypeBlob)
		for _, p := range blobPlugins {
			fmt.Printf("  %s: %s\n", p.Name, p.Description)
		}
		return ErrPluginListRequested
	}
	if c.MetadataPlugin == "list" {
		fmt.Println("Available metadata plugins:")
		metadataPlugins := plugin.GetPlugins(plugin.PluginTypeMetadata)
		for _, p := range metadataPlugins {
			fmt.Printf("  %s: %s\n", p.Name, p.Description)
		}
		return ErrPluginListRequested
	}

	return nil
}

var globalConfig = &Config{
	BlobPlugin:      DefaultBlobPlugin,
	MetadataPlugin:  DefaultMetadataPlugin,
	DatabasePath:    ".kex",
	KeystoreDir:     "",
	BindAddr:        "0.0.0.0",
	ApiPort:         3000,
	MetricsPort:     12798,
	ShutdownTimeout: DefaultShutdownTimeout,
	// Protocol parameter defaults live with their packages; zero values
	// here mean "use the package default"
	VoteDeadline:  "",
	CycleInterval: "",
}

// LoadConfig loads the node configuration from a YAML file, falling back
// to ~/.kex/kex.yaml and /etc/kex/kex.yaml, then applies environment
// variable overrides
func LoadConfig(configFile string) (*Config, error) {
	// Load config file as YAML if provided
	if configFile == "" {
		// Check for config file in this path: ~/.kex/kex.yaml
		if homeDir, err := os.UserHomeDir(); err == nil {
			userPath := filepath.Join(homeDir, ".kex", "kex.yaml")
			if _, err := os.Stat(userPath); err == nil {
				configFile = userPath
			}
		}

		// Try to check for /etc/kex/kex.yaml if still not found
		if configFile == "" {
			systemPath := "/etc/kex/kex.yaml"
			if _, err := os.Stat(systemPath); err == nil {
				configFile = systemPath
			}
		}
	}

	if configFile != "" {
		buf, err := os.ReadFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}

		// First unmarshal into temp config to handle plugin sections
		var tempCfg tempConfig
		err = yaml.Unmarshal(buf, &tempCfg)
		if err != nil {
			return nil, fmt.Errorf("error parsing config file: %w", err)
		}

		// If config section exists, use it for main config
		if tempCfg.Config != nil {
			// Overlay config values onto existing defaults
			configBytes, err := yaml.Marshal(tempCfg.Config)
			if err != nil {
				return nil, fmt.Errorf("error re-marshalling config: %w", err)
			}
			err = yaml.Unmarshal(configBytes, globalConfig)
			if err != nil {
				return nil, fmt.Errorf("error parsing config section: %w", err)
			}
		} else {
			// Otherwise unmarshal the whole file as main config
			err = yaml.Unmarshal(buf, globalConfig)
			if err != nil {
				return nil, fmt.Errorf("error parsing config file: %w", err)
			}
		}

		// Process plugin configurations
		pluginConfig := make(map[string]map[string]map[string]any)
		if tempCfg.Blob != nil {
			pluginConfig["blob"] = tempCfg.Blob
		}
		if tempCfg.Metadata != nil {
			pluginConfig["metadata"] = tempCfg.Metadata
		}
		// Handle database section if present
		if tempCfg.Database != nil {
			if tempCfg.Database.Blob != nil {
				blobConfig, pluginName := extractPluginSection(
					"blob",
					tempCfg.Database.Blob,
				)
				if pluginName != "" {
					globalConfig.BlobPlugin = pluginName
				}
				if pluginConfig["blob"] == nil {
					pluginConfig["blob"] = blobConfig
				} else {
					maps.Copy(pluginConfig["blob"], blobConfig)
				}
			}
			if tempCfg.Database.Metadata != nil {
				metadataConfig, pluginName := extractPluginSection(
					"metadata",
					tempCfg.Database.Metadata,
				)
				if pluginName != "" {
					globalConfig.MetadataPlugin = pluginName
				}
				if pluginConfig["metadata"] == nil {
					pluginConfig["metadata"] = metadataConfig
				} else {
					maps.Copy(pluginConfig["metadata"], metadataConfig)
				}
			}
		}
		if len(pluginConfig) > 0 {
			err = plugin.ProcessConfig(pluginConfig)
			if err != nil {
				return nil, fmt.Errorf(
					"error processing plugin config: %w",
					err,
				)
			}
		}
	}
	// Process environment variables
	err := envconfig.Process("kex", globalConfig)
	if err != nil {
		return nil, fmt.Errorf("error processing environment: %+w", err)
	}

	// Process plugin environment variables
	err = plugin.ProcessEnvVars()
	if err != nil {
		return nil, fmt.Errorf(
			"error processing plugin environment variables: %w",
			err,
		)
	}

	return globalConfig, nil
}

// extractPluginSection splits a database.<type> config section into a
// per-plugin option map, pulling out the special "plugin" key naming the
// active plugin
func extractPluginSection(
	typeName string,
	section map[string]any,
) (map[string]map[string]any, string) {
	pluginName := ""
	if pluginVal, exists := section["plugin"]; exists {
		if name, ok := pluginVal.(string); ok {
			pluginName = name
			delete(section, "plugin")
		}
	}
	ret := make(map[string]map[string]any)
	for k, v := range section {
		if val, ok := v.(map[string]any); ok {
			ret[k] = val
		} else if val, ok := v.(map[any]any); ok {
			// Convert map[any]any to map[string]any
			stringAnyMap := make(map[string]any)
			for vk, vv := range val {
				if keyStr, ok := vk.(string); ok {
					stringAnyMap[keyStr] = vv
				}
			}
			ret[k] = stringAnyMap
		} else {
			// Log skipped non-map config entries
			fmt.Fprintf(
				os.Stderr,
				"warning: skipping %s config entry %q: expected map, got %T\n",
				typeName,
				k,
				v,
			)
		}
	}
	return ret, pluginName
}

func GetConfig() *Config {
	return globalConfig
}
