// Copyright 2026 The Holidesk Authors
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

// Package id generates identifiers for persisted rows and opaque handles.
package id

import (
	"crypto/rand"
	"encoding/base64"

	"github.com/google/uuid"
)

// NewUUIDv7 returns a time-ordered UUID string for primary keys.
func NewUUIDv7() string {
	return uuid.Must(uuid.NewV7()).String()
}

// NewOpaque returns n random bytes encoded as unpadded base64url.
// Used for challenge ids and OAuth state values that must not be guessable.
func NewOpaque(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic("id: crypto/rand unavailable: " + err.Error())
	}
	return base64.RawURLEncoding.EncodeToString(b)
}
