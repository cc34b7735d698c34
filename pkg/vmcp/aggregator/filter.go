// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package aggregator

import (
	"regexp"
	"strings"

	"github.com/stacklok/mcpmesh/pkg/vmcp"
)

// MatchURIPattern reports whether uri matches the resource selection
// pattern. `*` matches any run of non-`/` characters, `**` matches any run
// of any characters, everything else matches literally. Matching is total:
// a malformed pattern matches nothing and never errors.
func MatchURIPattern(pattern, uri string) bool {
	re, err := compileURIPattern(pattern)
	if err != nil {
		return false
	}
	return re.MatchString(uri)
}

// compileURIPattern translates a URI pattern into an anchored regexp: every
// regex metacharacter except `*` is escaped, `**` becomes `.*`, a remaining
// `*` becomes `[^/]*`.
func compileURIPattern(pattern string) (*regexp.Regexp, error) {
	var sb strings.Builder
	sb.WriteString("^")
	for i := 0; i < len(pattern); i++ {
		if pattern[i] != '*' {
			sb.WriteString(regexp.QuoteMeta(string(pattern[i])))
			continue
		}
		if i+1 < len(pattern) && pattern[i+1] == '*' {
			sb.WriteString(".*")
			i++
		} else {
			sb.WriteString("[^/]*")
		}
	}
	sb.WriteString("$")
	return regexp.Compile(sb.String())
}

// selectedByName applies a name selection list under the given mode. In
// inclusion mode an empty list selects nothing; in exclusion mode it
// excludes nothing.
func selectedByName(name string, list []string, mode vmcp.ToolSelectionMode) bool {
	if mode == vmcp.SelectionModeExclusion {
		for _, entry := range list {
			if entry == name {
				return false
			}
		}
		return true
	}
	for _, entry := range list {
		if entry == name {
			return true
		}
	}
	return false
}

// selectedByURI applies a URI pattern selection list under the given mode.
func selectedByURI(uri string, patterns []string, mode vmcp.ToolSelectionMode) bool {
	if mode == vmcp.SelectionModeExclusion {
		for _, pattern := range patterns {
			if MatchURIPattern(pattern, uri) {
				return false
			}
		}
		return true
	}
	for _, pattern := range patterns {
		if MatchURIPattern(pattern, uri) {
			return true
		}
	}
	return false
}
