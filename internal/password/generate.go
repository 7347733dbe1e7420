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

package password

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// MaxGeneratedLength caps Generate to keep request handling bounded
const MaxGeneratedLength = 128

const (
	upperChars  = "ABCDEFGHJKLMNPQRSTUVWXYZ"
	lowerChars  = "abcdefghijkmnopqrstuvwxyz"
	digitChars  = "23456789"
	symbolChars = "!@#$%^&*()-_=+[]{}?"
	allChars    = upperChars + lowerChars + digitChars + symbolChars
)

// Generate returns a random password of the requested length that passes
// Validate. Lengths below the policy minimum are raised to it.
func (p *Policy) Generate(length int) (string, error) {
	if length < p.minLength {
		length = p.minLength
	}
	if length > MaxGeneratedLength {
		length = MaxGeneratedLength
	}

	for {
		buf := make([]byte, 0, length)
		// one of each class first, then fill and shuffle
		for _, set := range []string{upperChars, lowerChars, digitChars, symbolChars} {
			c, err := pick(set)
			if err != nil {
				return "", err
			}
			buf = append(buf, c)
		}
		for len(buf) < length {
			c, err := pick(allChars)
			if err != nil {
				return "", err
			}
			buf = append(buf, c)
		}
		if err := shuffle(buf); err != nil {
			return "", err
		}

		pw := string(buf)
		if p.Validate(pw).Valid {
			return pw, nil
		}
	}
}

func pick(set string) (byte, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(set))))
	if err != nil {
		return 0, fmt.Errorf("failed to read random source: %w", err)
	}
	return set[n.Int64()], nil
}

func shuffle(b []byte) error {
	for i := len(b) - 1; i > 0; i-- {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(i+1)))
		if err != nil {
			return fmt.Errorf("failed to read random source: %w", err)
		}
		j := n.Int64()
		b[i], b[j] = b[j], b[i]
	}
	return nil
}
