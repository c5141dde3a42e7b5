// Copyright 2026 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"fmt"
	"strings"

	"github.com/agext/levenshtein"
)

// maxSuggestDistance bounds how far off a value may be to still get a hint.
const maxSuggestDistance = 3

// Suggest returns the candidate closest to value, or "" if none is close.
func Suggest(value string, candidates []string) string {
	best, bestDist := "", maxSuggestDistance+1
	for _, c := range candidates {
		if d := levenshtein.Distance(strings.ToLower(value), strings.ToLower(c), nil); d < bestDist {
			best, bestDist = c, d
		}
	}
	return best
}

// unknownValue formats an "unknown X" message with a hint when one of the
// allowed values is close.
func unknownValue(what, value string, allowed []string) string {
	msg := fmt.Sprintf("unknown %s %q, expected one of %s", what, value, strings.Join(allowed, ", "))
	if s := Suggest(value, allowed); s != "" && value != "" {
		msg += fmt.Sprintf(" (did you mean %q?)", s)
	}
	return msg
}
