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

// Package identity provides signing identities for exchange participants.
// Private keys live in a keystore on disk, optionally encrypted at rest;
// the rest of the node only ever sees the Signer and Resolver interfaces.
package identity

import (
	"crypto/ed25519"
	"encoding/hex"
	"errors"
)

var (
	ErrUnknownIdentity  = errors.New("unknown identity")
	ErrInvalidPublicKey = errors.New("invalid public key")
	ErrInsecureFileMode = errors.New("insecure file permissions")
)

// Signer signs messages on behalf of one identity
type Signer interface {
	// ID returns the identity reference, the hex encoding of the public key
	ID() string
	// PublicKey returns the identity's public key
	PublicKey() ed25519.PublicKey
	// Sign signs a message with the identity's private key
	Sign(message []byte) []byte
}

// Resolver resolves identity references to public keys
type Resolver interface {
	Resolve(id string) (ed25519.PublicKey, error)
}

// Verify checks a signature against an identity reference
func Verify(id string, message []byte, signature []byte) (bool, error) {
	publicKey, err := ParsePublicKey(id)
	if err != nil {
		return false, err
	}
	return ed25519.Verify(publicKey, message, signature), nil
}

// ParsePublicKey decodes an identity reference into a public key
func ParsePublicKey(id string) (ed25519.PublicKey, error) {
	raw, err := hex.DecodeString(id)
	if err != nil {
		return nil, ErrInvalidPublicKey
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, ErrInvalidPublicKey
	}
	return ed25519.PublicKey(raw), nil
}

// PublicKeyID returns the identity reference for a public key
func PublicKeyID(publicKey ed25519.PublicKey) string {
	return hex.EncodeToString(publicKey)
}
