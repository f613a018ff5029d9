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
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndSign(t *testing.T) {
	ks, err := NewKeyStore(KeyStoreConfig{Dir: t.TempDir()})
	require.NoError(t, err)

	signer, err := ks.Generate("test key")
	require.NoError(t, err)

	message := []byte("hello")
	signature := signer.Sign(message)
	ok, err := Verify(signer.ID(), message, signature)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Verify(signer.ID(), []byte("tampered"), signature)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestKeyStoreReload(t *testing.T) {
	dir := t.TempDir()
	ks, err := NewKeyStore(KeyStoreConfig{Dir: dir})
	require.NoError(t, err)
	signer, err := ks.Generate("test key")
	require.NoError(t, err)

	reloaded, err := NewKeyStore(KeyStoreConfig{Dir: dir})
	require.NoError(t, err)
	assert.Equal(t, []string{signer.ID()}, reloaded.Identities())

	reloadedSigner, err := reloaded.Signer(signer.ID())
	require.NoError(t, err)
	assert.Equal(t, signer.PublicKey(), reloadedSigner.PublicKey())

	message := []byte("same key, same signature")
	assert.Equal(t, signer.Sign(message), reloadedSigner.Sign(message))
}

func TestKeyStoreRejectsInsecurePermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix permission bits")
	}
	dir := t.TempDir()
	ks, err := NewKeyStore(KeyStoreConfig{Dir: dir})
	require.NoError(t, err)
	signer, err := ks.Generate("test key")
	require.NoError(t, err)

	path := filepath.Join(dir, signer.ID()+".skey")
	require.NoError(t, os.Chmod(path, 0o644))

	_, err = NewKeyStore(KeyStoreConfig{Dir: dir})
	assert.ErrorIs(t, err, ErrInsecureFileMode)
}

func TestSignerUnknownIdentity(t *testing.T) {
	ks, err := NewKeyStore(KeyStoreConfig{})
	require.NoError(t, err)
	_, err = ks.Signer("deadbeef")
	assert.ErrorIs(t, err, ErrUnknownIdentity)
}

func TestResolve(t *testing.T) {
	ks, err := NewKeyStore(KeyStoreConfig{Dir: t.TempDir()})
	require.NoError(t, err)
	signer, err := ks.Generate("test key")
	require.NoError(t, err)

	// Held identity
	publicKey, err := ks.Resolve(signer.ID())
	require.NoError(t, err)
	assert.Equal(t, signer.PublicKey(), publicKey)

	// Foreign identities resolve from the reference itself
	other, err := NewKeyStore(KeyStoreConfig{})
	require.NoError(t, err)
	foreign, err := other.Generate("foreign")
	require.NoError(t, err)
	publicKey, err = ks.Resolve(foreign.ID())
	require.NoError(t, err)
	assert.Equal(t, foreign.PublicKey(), publicKey)

	_, err = ks.Resolve("not-hex")
	assert.ErrorIs(t, err, ErrInvalidPublicKey)
}
