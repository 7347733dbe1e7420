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

package identity

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

var errUnknownHashFormat = errors.New("unknown password hash format")

// PasswordHasher handles password hashing using Argon2id. Hashes imported
// from the previous bcrypt-based store are still verified and reported as
// needing a rehash.
type PasswordHasher struct {
	memory      uint32
	iterations  uint32
	parallelism uint8
	saltLength  uint32
	keyLength   uint32
}

// NewPasswordHasher creates a new password hasher with Argon2id
func NewPasswordHasher(memory, iterations uint32, parallelism uint8, saltLength, keyLength uint32) *PasswordHasher {
	return &PasswordHasher{
		memory:      memory,
		iterations:  iterations,
		parallelism: parallelism,
		saltLength:  saltLength,
		keyLength:   keyLength,
	}
}

// Hash hashes a password using Argon2id
func (h *PasswordHasher) Hash(password string) (string, error) {
	salt := make([]byte, h.saltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}

	hash := argon2.IDKey([]byte(password), salt, h.iterations, h.memory, h.parallelism, h.keyLength)

	// $argon2id$v=19$m=memory,t=iterations,p=parallelism$salt$hash
	return fmt.Sprintf(
		"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		h.memory,
		h.iterations,
		h.parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
	), nil
}

// Verify verifies a password against an encoded hash. needsRehash is true
// when the hash is valid but uses bcrypt or weaker Argon2 parameters.
func (h *PasswordHasher) Verify(password, encodedHash string) (ok bool, needsRehash bool, err error) {
	switch {
	case strings.HasPrefix(encodedHash, "$argon2id$"):
		return h.verifyArgon2(password, encodedHash)
	case strings.HasPrefix(encodedHash, "$2a$"), strings.HasPrefix(encodedHash, "$2b$"), strings.HasPrefix(encodedHash, "$2y$"):
		err := bcrypt.CompareHashAndPassword([]byte(encodedHash), []byte(password))
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return false, false, nil
		}
		if err != nil {
			return false, false, fmt.Errorf("invalid bcrypt hash: %w", err)
		}
		return true, true, nil
	default:
		return false, false, errUnknownHashFormat
	}
}

func (h *PasswordHasher) verifyArgon2(password, encodedHash string) (bool, bool, error) {
	// ["", "argon2id", "v=19", "m=65536,t=3,p=4", "salt", "hash"]
	sections := strings.Split(encodedHash, "$")
	if len(sections) != 6 {
		return false, false, fmt.Errorf("invalid hash format: got %d sections", len(sections))
	}

	var version int
	if _, err := fmt.Sscanf(sections[2], "v=%d", &version); err != nil {
		return false, false, fmt.Errorf("invalid version: %w", err)
	}
	if version != argon2.Version {
		return false, false, fmt.Errorf("unsupported argon2 version %d", version)
	}

	var memory, iterations uint32
	var parallelism uint8
	if _, err := fmt.Sscanf(sections[3], "m=%d,t=%d,p=%d", &memory, &iterations, &parallelism); err != nil {
		return false, false, fmt.Errorf("invalid parameters: %w", err)
	}

	salt, err := base64.RawStdEncoding.DecodeString(sections[4])
	if err != nil {
		return false, false, fmt.Errorf("failed to decode salt: %w", err)
	}
	expected, err := base64.RawStdEncoding.DecodeString(sections[5])
	if err != nil {
		return false, false, fmt.Errorf("failed to decode hash: %w", err)
	}

	actual := argon2.IDKey([]byte(password), salt, iterations, memory, parallelism, uint32(len(expected)))
	if subtle.ConstantTimeCompare(actual, expected) != 1 {
		return false, false, nil
	}

	weaker := memory < h.memory || iterations < h.iterations || parallelism < h.parallelism ||
		uint32(len(expected)) < h.keyLength
	return true, weaker, nil
}
