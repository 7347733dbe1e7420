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

package twofactor

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
)

// backupCodeAlphabet omits characters that are easy to confuse (0/O, 1/I/L)
const backupCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const backupCodeLength = 10

// newBackupCodes returns n formatted codes and their storage hashes
func newBackupCodes(principalID string, n int) ([]string, []string, error) {
	codes := make([]string, 0, n)
	hashes := make([]string, 0, n)
	for i := 0; i < n; i++ {
		var b strings.Builder
		b.Grow(backupCodeLength)
		for j := 0; j < backupCodeLength; j++ {
			idx, err := rand.Int(rand.Reader, big.NewInt(int64(len(backupCodeAlphabet))))
			if err != nil {
				return nil, nil, fmt.Errorf("failed to generate backup code: %w", err)
			}
			b.WriteByte(backupCodeAlphabet[idx.Int64()])
		}
		raw := b.String()
		codes = append(codes, formatBackupCode(raw))
		hashes = append(hashes, hashBackupCode(principalID, raw))
	}
	return codes, hashes, nil
}

func formatBackupCode(code string) string {
	mid := len(code) / 2
	return code[:mid] + "-" + code[mid:]
}

// canonicalBackupCode strips separators and case so "abcde-fghjk" and
// "ABCDEFGHJK" match the same hash.
func canonicalBackupCode(code string) string {
	s := strings.ToUpper(strings.TrimSpace(code))
	s = strings.ReplaceAll(s, "-", "")
	return strings.ReplaceAll(s, " ", "")
}

// hashBackupCode binds the hash to the principal so equal codes of two
// principals never collide.
func hashBackupCode(principalID, canonical string) string {
	sum := sha256.Sum256([]byte(principalID + "\x00" + canonical))
	return hex.EncodeToString(sum[:])
}
