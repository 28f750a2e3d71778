package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/agnivade/levenshtein"
)

// maxSuggestDistance is the maximum edit distance for "did you mean?"
// suggestions when unknown config keys are detected.
const maxSuggestDistance = 3

// knownKeys are the valid top-level keys in the config file, sorted so that
// ties in edit distance resolve deterministically.
var knownKeys = func() []string {
	keys := []string{
		"library_dir", "state_dir", "include", "exclude", "delete_mode", "confirm_deletes",
		"batch_size", "low_watermark",
		"watch_debounce", "safety_scan_interval",
		"log_level", "log_format",
		"listen_addr",
	}

	slices.Sort(keys)

	return keys
}()

// checkUnknownKeys inspects TOML metadata for undecoded keys and returns an
// error with a suggestion for each one.
func checkUnknownKeys(md *toml.MetaData) error {
	var errs []error

	for _, key := range md.Undecoded() {
		field := strings.SplitN(key.String(), ".", 2)[0]

		if suggestion := closestMatch(field, knownKeys); suggestion != "" {
			errs = append(errs, fmt.Errorf("unknown config key %q, did you mean %q?", field, suggestion))
			continue
		}

		errs = append(errs, fmt.Errorf("unknown config key %q", field))
	}

	return errors.Join(errs...)
}

// closestMatch finds the closest known key by edit distance. Returns the
// empty string if nothing is within maxSuggestDistance.
func closestMatch(unknown string, known []string) string {
	best := ""
	bestDist := maxSuggestDistance + 1

	for _, k := range known {
		if d := levenshtein.ComputeDistance(unknown, k); d < bestDist {
			bestDist = d
			best = k
		}
	}

	return best
}
