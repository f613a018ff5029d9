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

// Package artifact implements the content-addressed registry for knowledge
// artifacts. An artifact's identity is derived from its domain, version, and
// payload, so resubmitting identical content always yields the same ID.
package artifact

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ArtifactID is the content digest identifying an artifact
type ArtifactID [32]byte

func (a ArtifactID) String() string {
	return hex.EncodeToString(a[:])
}

func (a ArtifactID) Bytes() []byte {
	return a[:]
}

// ParseArtifactID parses a hex-encoded artifact ID
func ParseArtifactID(s string) (ArtifactID, error) {
	var ret ArtifactID
	raw, err := hex.DecodeString(s)
	if err != nil {
		return ret, fmt.Errorf("invalid artifact ID: %w", err)
	}
	if len(raw) != len(ret) {
		return ret, fmt.Errorf(
			"invalid artifact ID: expected %d bytes, got %d",
			len(ret),
			len(raw),
		)
	}
	copy(ret[:], raw)
	return ret, nil
}

// ArtifactIDFromBytes converts a raw digest to an ArtifactID
func ArtifactIDFromBytes(raw []byte) (ArtifactID, error) {
	var ret ArtifactID
	if len(raw) != len(ret) {
		return ret, fmt.Errorf(
			"invalid artifact ID: expected %d bytes, got %d",
			len(ret),
			len(raw),
		)
	}
	copy(ret[:], raw)
	return ret, nil
}

// Relation describes how a child artifact builds on a parent
type Relation string

const (
	RelationDerivedFrom Relation = "derived_from"
	RelationEnsembles   Relation = "ensembles"
	RelationFineTunes   Relation = "fine_tunes"
)

func (r Relation) Valid() bool {
	switch r {
	case RelationDerivedFrom, RelationEnsembles, RelationFineTunes:
		return true
	}
	return false
}

// ParentRef is a lineage declaration made at submit time
type ParentRef struct {
	ID       ArtifactID
	Relation Relation
}

// Submission is the input to Registry.Submit
type Submission struct {
	Submitter string
	Domain    string
	Version   string
	Payload   []byte
	Parents   []ParentRef
}

// Artifact is the registry's view of a knowledge artifact. The payload is
// stored separately in the blob store.
type Artifact struct {
	ID          ArtifactID
	Submitter   string
	Domain      string
	Version     string
	Status      Status
	PayloadSize uint64
	Parents     []ParentRef
	SubmittedAt time.Time
	ReviewedAt  *time.Time
}

// ComputeArtifactID derives the content identity of a submission. Each field
// is length-prefixed before hashing so field boundaries cannot be shifted to
// produce a colliding encoding.
func ComputeArtifactID(domain, version string, payload []byte) ArtifactID {
	h := sha256.New()
	var lenBuf [binary.MaxVarintLen64]byte
	for _, field := range [][]byte{
		[]byte(domain),
		[]byte(version),
		payload,
	} {
		n := binary.PutUvarint(lenBuf[:], uint64(len(field)))
		h.Write(lenBuf[:n])
		h.Write(field)
	}
	var ret ArtifactID
	copy(ret[:], h.Sum(nil))
	return ret
}

// validVersion reports whether a version string is a plain x.y.z semver
func validVersion(version string) bool {
	parts := strings.Split(version, ".")
	if len(parts) != 3 {
		return false
	}
	for _, part := range parts {
		if part == "" {
			return false
		}
		if len(part) > 1 && part[0] == '0' {
			return false
		}
		if _, err := strconv.ParseUint(part, 10, 32); err != nil {
			return false
		}
	}
	return true
}
