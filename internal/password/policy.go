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

// Package password implements the password policy: validation against
// complexity rules, secure generation, and advisory strength scoring.
package password

import (
	_ "embed"
	"strings"
	"unicode"
)

// Violation identifies one failed policy rule
type Violation string

const (
	TooShort         Violation = "too_short"
	MissingUppercase Violation = "missing_uppercase"
	MissingLowercase Violation = "missing_lowercase"
	MissingDigit     Violation = "missing_digit"
	MissingSymbol    Violation = "missing_symbol"
	TooCommon        Violation = "too_common"
	ReusedRecently   Violation = "reused_recently"
)

// DefaultMinLength is the minimum length enforced when none is configured
const DefaultMinLength = 8

//go:embed common.txt
var commonList string

// Result is the outcome of Validate. Violations lists every failed rule in a
// stable order so a client can render a checklist.
type Result struct {
	Valid      bool        `json:"valid"`
	Violations []Violation `json:"violations"`
}

// HistoryMatcher reports whether password equals one of the principal's
// recent passwords.
type HistoryMatcher func(password string) bool

// Config holds policy settings
type Config struct {
	MinLength   int
	CheckCommon bool
}

// Policy validates passwords against complexity rules
type Policy struct {
	minLength   int
	checkCommon bool
	common      map[string]struct{}
}

// NewPolicy creates a policy. MinLength below DefaultMinLength is raised.
func NewPolicy(cfg Config) *Policy {
	if cfg.MinLength < DefaultMinLength {
		cfg.MinLength = DefaultMinLength
	}
	p := &Policy{
		minLength:   cfg.MinLength,
		checkCommon: cfg.CheckCommon,
		common:      make(map[string]struct{}),
	}
	for _, line := range strings.Split(commonList, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		p.common[strings.ToLower(line)] = struct{}{}
	}
	return p
}

// MinLength returns the enforced minimum length
func (p *Policy) MinLength() int {
	return p.minLength
}

// Validate evaluates every rule and reports all violations together.
func (p *Policy) Validate(password string, history ...HistoryMatcher) Result {
	var hasUpper, hasLower, hasDigit, hasSymbol bool
	length := 0
	for _, r := range password {
		length++
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

	violations := []Violation{}
	if length < p.minLength {
		violations = append(violations, TooShort)
	}
	if !hasUpper {
		violations = append(violations, MissingUppercase)
	}
	if !hasLower {
		violations = append(violations, MissingLowercase)
	}
	if !hasDigit {
		violations = append(violations, MissingDigit)
	}
	if !hasSymbol {
		violations = append(violations, MissingSymbol)
	}
	if p.checkCommon && p.isCommon(password) {
		violations = append(violations, TooCommon)
	}
	for _, matches := range history {
		if matches != nil && matches(password) {
			violations = append(violations, ReusedRecently)
			break
		}
	}

	return Result{Valid: len(violations) == 0, Violations: violations}
}

func (p *Policy) isCommon(password string) bool {
	_, ok := p.common[strings.ToLower(password)]
	return ok
}

func isSymbol(r rune) bool {
	return unicode.IsPunct(r) || unicode.IsSymbol(r) || r == ' '
}
