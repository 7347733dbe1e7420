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
	"unicode"
)

// Level is an advisory strength class
type Level string

const (
	VeryWeak   Level = "very_weak"
	Weak       Level = "weak"
	Fair       Level = "fair"
	Strong     Level = "strong"
	VeryStrong Level = "very_strong"
)

// Strength is the result of Score
type Strength struct {
	Level Level `json:"level"`
	Score int   `json:"score"`
}

// Score classifies password strength on a 0..100 scale. It is advisory only
// and independent of Validate.
func (p *Policy) Score(password string) Strength {
	runes := []rune(password)
	if len(runes) == 0 {
		return Strength{Level: VeryWeak, Score: 0}
	}

	var classes int
	var hasUpper, hasLower, hasDigit, hasSymbol bool
	unique := make(map[rune]struct{}, len(runes))
	for _, r := range runes {
		unique[r] = struct{}{}
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		case isSymbol(r):
			hasSymbol = true
		}
	}
	for _, b := range []bool{hasUpper, hasLower, hasDigit, hasSymbol} {
		if b {
			classes++
		}
	}

	score := len(runes) * 4
	if score > 48 {
		score = 48
	}
	score += classes * 10
	score += len(unique) * 12 / len(runes)

	score -= sequencePenalty(runes)
	if p.isCommon(password) {
		score = min(score, 10)
	}

	score = max(0, min(100, score))
	return Strength{Level: levelFor(score), Score: score}
}

// sequencePenalty penalizes repeated characters and ascending or descending
// runs such as "aaa", "123" or "cba".
func sequencePenalty(runes []rune) int {
	penalty := 0
	for i := 2; i < len(runes); i++ {
		a, b, c := runes[i-2], runes[i-1], runes[i]
		if a == b && b == c {
			penalty += 4
			continue
		}
		if b-a == c-b && (b-a == 1 || b-a == -1) {
			penalty += 3
		}
	}
	return penalty
}

func levelFor(score int) Level {
	switch {
	case score < 20:
		return VeryWeak
	case score < 40:
		return Weak
	case score < 60:
		return Fair
	case score < 80:
		return Strong
	default:
		return VeryStrong
	}
}
