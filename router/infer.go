// Copyright 2026 Nexus
// SPDX-License-Identifier: Apache-2.0

package router

import (
	"regexp"
	"strings"

	"nexus/engine/llm"
)

// Parameter completion is a best-effort heuristic: it fills well-known
// missing arguments from prior conversation turns so obvious follow-up
// questions ("and how big is it?") keep working. It is a fallback, never
// a source of truth; when nothing matches the arguments pass through
// untouched and the connector reports the missing field.

// inferPatterns maps well-known argument names to regexes that pull a
// candidate value out of earlier conversation text.
var inferPatterns = map[string]*regexp.Regexp{
	"bucket":  regexp.MustCompile(`(?i)\bbucket\s+(?:named\s+|called\s+)?['"]?([a-z0-9][a-z0-9.\-]{2,62})['"]?`),
	"channel": regexp.MustCompile(`(?i)(?:\bchannel\s+|#)['"]?([a-z0-9][a-z0-9_\-]{1,79})['"]?`),
	"table":   regexp.MustCompile(`(?i)\btable\s+['"]?([A-Za-z_][A-Za-z0-9_]{0,62})['"]?`),
	"project": regexp.MustCompile(`(?i)\bproject\s+['"]?([A-Z][A-Z0-9]{1,9})['"]?`),
}

// argNamesForTool lists which arguments a tool name suggests it needs,
// keyed by substring of the tool name.
var argNamesForTool = map[string][]string{
	"object":  {"bucket"},
	"bucket":  {"bucket"},
	"message": {"channel"},
	"channel": {"channel"},
	"query":   {"table"},
	"table":   {"table"},
	"issue":   {"project"},
	"ticket":  {"project"},
}

// InferMissingArg fills well-known missing arguments for the named tool
// from conversation history, scanning the most recent turns first. The
// second return reports whether anything was filled.
func InferMissingArg(tool string, partialArgs map[string]interface{}, history []llm.Message) (map[string]interface{}, bool) {
	if len(history) == 0 {
		return partialArgs, false
	}

	var wanted []string
	lowerTool := strings.ToLower(tool)
	for fragment, names := range argNamesForTool {
		if strings.Contains(lowerTool, fragment) {
			wanted = append(wanted, names...)
		}
	}
	if len(wanted) == 0 {
		return partialArgs, false
	}

	filled := false
	out := partialArgs
	for _, name := range wanted {
		if out != nil {
			if v, ok := out[name]; ok && v != nil && v != "" {
				continue
			}
		}
		pattern, ok := inferPatterns[name]
		if !ok {
			continue
		}
		for i := len(history) - 1; i >= 0; i-- {
			m := pattern.FindStringSubmatch(history[i].Content)
			if len(m) < 2 {
				continue
			}
			if !filled {
				// Copy on first write so callers' maps stay untouched.
				out = make(map[string]interface{}, len(partialArgs)+1)
				for k, v := range partialArgs {
					out[k] = v
				}
			}
			out[name] = m[1]
			filled = true
			break
		}
	}

	return out, filled
}
