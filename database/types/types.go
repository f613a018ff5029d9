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

package types

import (
	"errors"
)

const (
	PayloadBlobKeyPrefix = "kp"
	CheckpointKey        = "kx_checkpoint"
)

var (
	ErrBlobStoreUnavailable = errors.New("blob store unavailable")
	ErrKeyNotFound          = errors.New("key not found")
)

// PayloadBlobKey builds the blob store key for a stored artifact payload.
// Payloads are content-addressed, so the key is derived from the payload
// digest.
func PayloadBlobKey(digest []byte) []byte {
	key := []byte(PayloadBlobKeyPrefix)
	key = append(key, digest...)
	return key
}
