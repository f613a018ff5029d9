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

package plugin

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/pflag"
)

var pluginTypesByName = map[string]PluginType{
	"blob":     PluginTypeBlob,
	"metadata": PluginTypeMetadata,
}

// ProcessConfig applies plugin option values parsed from the config file.
// The outer map is keyed by plugin type name, then plugin name, then
// option name.
func ProcessConfig(
	pluginConfig map[string]map[string]map[string]any,
) error {
	for typeName, plugins := range pluginConfig {
		pluginType, ok := pluginTypesByName[typeName]
		if !ok {
			return fmt.Errorf("unknown plugin type: %s", typeName)
		}
		for pluginName, options := range plugins {
			for optionName, value := range options {
				err := SetPluginOption(
					pluginType,
					pluginName,
					optionName,
					value,
				)
				if err != nil {
					return fmt.Errorf(
						"failed to set %s plugin %s option %s: %w",
						typeName,
						pluginName,
						optionName,
						err,
					)
				}
			}
		}
	}
	return nil
}

// ProcessEnvVars applies plugin option values from the environment. Each
// registered option maps to KEX_<TYPE>_<PLUGIN>_<OPTION> with dashes
// converted to underscores, e.g. KEX_BLOB_GCS_CREDENTIALS_FILE.
func ProcessEnvVars() error {
	pluginEntriesMu.Lock()
	defer pluginEntriesMu.Unlock()
	for i := range pluginEntries {
		entry := &pluginEntries[i]
		for _, opt := range entry.Options {
			envName := strings.ToUpper(
				strings.ReplaceAll(
					fmt.Sprintf(
						"kex_%s_%s_%s",
						PluginTypeName(entry.Type),
						entry.Name,
						opt.Name,
					),
					"-",
					"_",
				),
			)
			raw, ok := os.LookupEnv(envName)
			if !ok {
				continue
			}
			value, err := parseOptionValue(opt.Type, raw)
			if err != nil {
				return fmt.Errorf("invalid value for %s: %w", envName, err)
			}
			if err := opt.setValue(value); err != nil {
				return fmt.Errorf("failed to apply %s: %w", envName, err)
			}
		}
	}
	return nil
}

// PopulateCmdlineOptions registers a command line flag for each plugin
// option, named <type>-<plugin>-<option>. Flags write directly to the
// option destinations, so parsing the flag set applies the values.
func PopulateCmdlineOptions(fs *pflag.FlagSet) error {
	pluginEntriesMu.Lock()
	defer pluginEntriesMu.Unlock()
	for i := range pluginEntries {
		entry := &pluginEntries[i]
		for _, opt := range entry.Options {
			flagName := fmt.Sprintf(
				"%s-%s-%s",
				PluginTypeName(entry.Type),
				entry.Name,
				opt.Name,
			)
			switch opt.Type {
			case PluginOptionTypeString:
				dest, ok := opt.Dest.(*string)
				if !ok || dest == nil {
					return fmt.Errorf(
						"invalid destination for option %s",
						flagName,
					)
				}
				fs.StringVar(dest, flagName, *dest, opt.Description)
			case PluginOptionTypeBool:
				dest, ok := opt.Dest.(*bool)
				if !ok || dest == nil {
					return fmt.Errorf(
						"invalid destination for option %s",
						flagName,
					)
				}
				fs.BoolVar(dest, flagName, *dest, opt.Description)
			case PluginOptionTypeInt:
				dest, ok := opt.Dest.(*int)
				if !ok || dest == nil {
					return fmt.Errorf(
						"invalid destination for option %s",
						flagName,
					)
				}
				fs.IntVar(dest, flagName, *dest, opt.Description)
			case PluginOptionTypeUint:
				dest, ok := opt.Dest.(*uint64)
				if !ok || dest == nil {
					return fmt.Errorf(
						"invalid destination for option %s",
						flagName,
					)
				}
				fs.Uint64Var(dest, flagName, *dest, opt.Description)
			default:
				return fmt.Errorf(
					"unknown option type for %s",
					flagName,
				)
			}
		}
	}
	return nil
}

func parseOptionValue(
	optionType PluginOptionType,
	raw string,
) (any, error) {
	switch optionType {
	case PluginOptionTypeString:
		return raw, nil
	case PluginOptionTypeBool:
		return strconv.ParseBool(raw)
	case PluginOptionTypeInt:
		return strconv.Atoi(raw)
	case PluginOptionTypeUint:
		return strconv.ParseUint(raw, 10, 64)
	default:
		return nil, fmt.Errorf("unknown option type %d", optionType)
	}
}
