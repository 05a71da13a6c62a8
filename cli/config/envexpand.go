// Package config loads tether.yaml / tether.toml for the tether CLI.
package config

import (
	"os"
	"regexp"
)

// envRef matches ${VAR} and ${VAR:-fallback}.
var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-([^}]*))?\}`)

// ExpandEnv substitutes ${VAR} and ${VAR:-fallback} references with values
// from the process environment. An empty or unset variable takes the
// fallback when one is given and expands to "" otherwise; a missing
// remote.command then surfaces in Validate.
func ExpandEnv(input string) string {
	return envRef.ReplaceAllStringFunc(input, func(ref string) string {
		m := envRef.FindStringSubmatch(ref)
		if v, ok := os.LookupEnv(m[1]); ok && v != "" {
			return v
		}
		return m[2]
	})
}
