package config

import (
	"errors"
	"fmt"
	"sort"

	"github.com/BurntSushi/toml"
)

// maxLevenshteinDistance is the maximum edit distance for "did you mean?"
// suggestions when unknown config keys are detected.
const maxLevenshteinDistance = 3

// knownSectionKeys lists the valid keys inside each config section.
var knownSectionKeys = map[string][]string{
	"oauth": {
		"client_id", "client_secret", "auth_endpoint", "token_endpoint",
		"jwks_endpoint", "scopes", "issuers", "authorization_timeout",
	},
	"federation": {"enabled", "endpoint", "api_key", "provider_id", "request_uri"},
	"drive":      {"api_url", "upload_url", "space", "keep", "file_prefix", "download_prefix"},
	"update": {
		"manifest_url", "local_manifests", "current_version", "manifest_timeout",
		"download_timeout", "installer_prefix", "temp_dir",
	},
	"backup":  {"snapshot_source", "grace_period", "tick_interval", "archive_retention_days"},
	"logging": {"log_level", "log_file", "log_format"},
	"network": {"connect_timeout", "data_timeout", "user_agent"},
}

// knownTopLevelKeys are the valid keys outside any section: the section
// names themselves plus data_dir. Sorted for deterministic suggestions when
// two candidates have the same edit distance.
var knownTopLevelKeys = func() []string {
	keys := []string{"data_dir"}
	for section := range knownSectionKeys {
		keys = append(keys, section)
	}

	sort.Strings(keys)

	return keys
}()

// sectionKeyOwner maps each section key to its section, so a key written at
// the top level can be pointed at the right section.
var sectionKeyOwner = func() map[string]string {
	owner := make(map[string]string)

	for section, keys := range knownSectionKeys {
		for _, k := range keys {
			owner[k] = section
		}
	}

	return owner
}()

// checkUnknownKeys inspects TOML metadata for undecoded keys and returns
// an error with "did you mean?" suggestions for each unknown key.
func checkUnknownKeys(md *toml.MetaData) error {
	undecoded := md.Undecoded()
	if len(undecoded) == 0 {
		return nil
	}

	// An unknown table appears both as itself and as the parent of its
	// keys; report it once.
	parents := make(map[string]bool)

	for _, key := range undecoded {
		if len(key) > 1 {
			parents[key[0]] = true
		}
	}

	var errs []error

	reportedSections := make(map[string]bool)

	for _, key := range undecoded {
		if len(key) == 1 && parents[key[0]] {
			continue
		}

		if len(key) > 1 {
			if _, known := knownSectionKeys[key[0]]; !known {
				if reportedSections[key[0]] {
					continue
				}

				reportedSections[key[0]] = true
			}
		}

		errs = append(errs, buildKeyError(key))
	}

	return errors.Join(errs...)
}

// buildKeyError creates a descriptive error for an unknown key, suggesting
// the closest known key in the same scope.
func buildKeyError(key toml.Key) error {
	if len(key) == 1 {
		name := key[0]

		if section, ok := sectionKeyOwner[name]; ok {
			return fmt.Errorf("unknown config key %q: it belongs in the [%s] section", name, section)
		}

		if suggestion := closestMatch(name, knownTopLevelKeys); suggestion != "" {
			return fmt.Errorf("unknown config key %q, did you mean %q?", name, suggestion)
		}

		return fmt.Errorf("unknown config key %q", name)
	}

	section, name := key[0], key[1]

	known, ok := knownSectionKeys[section]
	if !ok {
		if suggestion := closestMatch(section, knownTopLevelKeys); suggestion != "" {
			return fmt.Errorf("unknown config section [%s], did you mean [%s]?", section, suggestion)
		}

		return fmt.Errorf("unknown config section [%s]", section)
	}

	if suggestion := closestMatch(name, sortedCopy(known)); suggestion != "" {
		return fmt.Errorf("unknown config key %q in [%s], did you mean %q?", name, section, suggestion)
	}

	return fmt.Errorf("unknown config key %q in [%s]", name, section)
}

func sortedCopy(in []string) []string {
	out := append([]string(nil), in...)
	sort.Strings(out)

	return out
}

// closestMatch finds the closest known key by Levenshtein distance.
// Returns empty string if no match is within maxLevenshteinDistance.
func closestMatch(unknown string, known []string) string {
	best := ""
	bestDist := maxLevenshteinDistance + 1

	for _, k := range known {
		d := levenshtein(unknown, k)
		if d < bestDist {
			bestDist = d
			best = k
		}
	}

	if bestDist <= maxLevenshteinDistance {
		return best
	}

	return ""
}

// levenshtein computes the edit distance between two strings.
func levenshtein(a, b string) int {
	if a == "" {
		return len(b)
	}

	if b == "" {
		return len(a)
	}

	// Use single-row optimization to avoid allocating a full matrix.
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)

	for j := range prev {
		prev[j] = j
	}

	for i := range len(a) {
		curr[0] = i + 1

		for j := range len(b) {
			cost := 1
			if a[i] == b[j] {
				cost = 0
			}

			curr[j+1] = minOf(curr[j]+1, prev[j+1]+1, prev[j]+cost)
		}

		prev, curr = curr, prev
	}

	return prev[len(b)]
}

// minOf returns the minimum of three integers.
func minOf(a, b, c int) int {
	m := a
	if b < m {
		m = b
	}

	if c < m {
		m = c
	}

	return m
}
