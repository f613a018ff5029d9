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

package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/parentheses-network/kex/database/sops"
)

// keyFileEnvelope is the JSON structure of a keystore file
type keyFileEnvelope struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	KeyHex      string `json:"keyHex"`
}

const keyFileType = "KexSigningKey"

// KeyStoreConfig holds configuration for the KeyStore
type KeyStoreConfig struct {
	// Dir is the directory holding key files
	Dir string
	// EncryptKeys encrypts key files at rest with sops. This requires KMS
	// configuration in the environment
	EncryptKeys bool
	// Logger for keystore events
	Logger *slog.Logger
}

// KeyStore manages signing identities stored as key files in a directory.
// Key files may be sops-encrypted at rest; plaintext files must not be
// readable by group or other.
type KeyStore struct {
	config KeyStoreConfig
	logger *slog.Logger

	mu   sync.RWMutex
	keys map[string]*storedKey
}

type storedKey struct {
	id         string
	privateKey ed25519.PrivateKey
}

func (k *storedKey) ID() string {
	return k.id
}

func (k *storedKey) PublicKey() ed25519.PublicKey {
	return k.privateKey.Public().(ed25519.PublicKey)
}

func (k *storedKey) Sign(message []byte) []byte {
	return ed25519.Sign(k.privateKey, message)
}

// NewKeyStore creates a KeyStore and loads any key files already present
// in the configured directory
func NewKeyStore(config KeyStoreConfig) (*KeyStore, error) {
	k := &KeyStore{
		config: config,
		logger: config.Logger,
		keys:   make(map[string]*storedKey),
	}
	if config.Logger == nil {
		// Create logger to throw away logs
		// We do this so we don't have to add guards around every log operation
		k.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if config.Dir != "" {
		if err := os.MkdirAll(config.Dir, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create keystore dir: %w", err)
		}
		if err := k.loadDir(); err != nil {
			return nil, err
		}
	}
	return k, nil
}

func (k *KeyStore) loadDir() error {
	entries, err := os.ReadDir(k.config.Dir)
	if err != nil {
		return fmt.Errorf("failed to read keystore dir: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".skey") {
			continue
		}
		key, err := loadKeyFromFile(
			filepath.Join(k.config.Dir, entry.Name()),
		)
		if err != nil {
			return err
		}
		k.keys[key.id] = key
		k.logger.Debug(
			"loaded signing key",
			"component", "identity",
			"id", key.id,
		)
	}
	return nil
}

// loadKeyFromFile loads a signing key from a key file. The file is opened
// first and permissions are checked on the open handle to avoid a TOCTOU
// race between the permission check and the read.
func loadKeyFromFile(path string) (*storedKey, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open key file %q: %w", path, err)
	}
	defer f.Close()
	if err := checkOpenFilePermissions(f); err != nil {
		return nil, err
	}
	// Valid key files are tiny even when sops-encrypted
	const maxKeyFileSize = 1 << 20
	data, err := io.ReadAll(io.LimitReader(f, maxKeyFileSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read key file %q: %w", path, err)
	}
	// A sops-encrypted file carries its metadata under a "sops" key
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("failed to parse key file %q: %w", path, err)
	}
	if _, ok := probe["sops"]; ok {
		data, err = sops.Decrypt(data)
		if err != nil {
			return nil, fmt.Errorf(
				"failed to decrypt key file %q: %w",
				path,
				err,
			)
		}
	}
	var env keyFileEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to parse key file %q: %w", path, err)
	}
	if env.Type != keyFileType {
		return nil, fmt.Errorf(
			"unexpected key file type %q in %q",
			env.Type,
			path,
		)
	}
	seed, err := hex.DecodeString(env.KeyHex)
	if err != nil {
		return nil, fmt.Errorf("failed to decode key in %q: %w", path, err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf(
			"key in %q has length %d, expected %d",
			path,
			len(seed),
			ed25519.SeedSize,
		)
	}
	privateKey := ed25519.NewKeyFromSeed(seed)
	return &storedKey{
		id:         PublicKeyID(privateKey.Public().(ed25519.PublicKey)),
		privateKey: privateKey,
	}, nil
}

// Generate creates a new signing identity, persists its key file, and
// returns its Signer
func (k *KeyStore) Generate(description string) (Signer, error) {
	publicKey, privateKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	key := &storedKey{
		id:         PublicKeyID(publicKey),
		privateKey: privateKey,
	}
	if k.config.Dir != "" {
		data, err := json.Marshal(keyFileEnvelope{
			Type:        keyFileType,
			Description: description,
			KeyHex:      hex.EncodeToString(privateKey.Seed()),
		})
		if err != nil {
			return nil, err
		}
		if k.config.EncryptKeys {
			data, err = sops.Encrypt(data)
			if err != nil {
				return nil, fmt.Errorf("failed to encrypt key file: %w", err)
			}
		}
		path := filepath.Join(k.config.Dir, key.id+".skey")
		if err := os.WriteFile(path, data, 0o600); err != nil {
			return nil, fmt.Errorf("failed to write key file: %w", err)
		}
	}
	k.mu.Lock()
	k.keys[key.id] = key
	k.mu.Unlock()
	k.logger.Info(
		"generated signing key",
		"component", "identity",
		"id", key.id,
	)
	return key, nil
}

// Signer returns the Signer for a stored identity
func (k *KeyStore) Signer(id string) (Signer, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	key, ok := k.keys[id]
	if !ok {
		return nil, ErrUnknownIdentity
	}
	return key, nil
}

// Identities lists the stored identity references
func (k *KeyStore) Identities() []string {
	k.mu.RLock()
	defer k.mu.RUnlock()
	ret := make([]string, 0, len(k.keys))
	for id := range k.keys {
		ret = append(ret, id)
	}
	return ret
}

// Resolve implements Resolver for identities held in this keystore
func (k *KeyStore) Resolve(id string) (ed25519.PublicKey, error) {
	k.mu.RLock()
	key, ok := k.keys[id]
	k.mu.RUnlock()
	if ok {
		return key.PublicKey(), nil
	}
	// Identity references are self-describing, so unknown ones still
	// resolve as long as they parse
	return ParsePublicKey(id)
}
