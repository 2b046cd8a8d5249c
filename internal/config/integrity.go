package config

import (
	"errors"
	"fmt"
	"strings"
)

// IntegrityResult collects the outcome of VerifyIntegrity.
type IntegrityResult struct {
	Passed   bool
	Warnings []string
	Errors   []string
}

// Err returns the collected errors, or nil when verification passed.
func (r *IntegrityResult) Err() error {
	if r.Passed {
		return nil
	}
	return fmt.Errorf("config integrity check failed:\n  %s\nIf you edited these files intentionally, run: relwiz config lock",
		strings.Join(r.Errors, "\n  "))
}

// VerifyIntegrity checks all discovered files against the .checksums manifest.
// High-security mismatches are errors. Operational mismatches are warnings.
func VerifyIntegrity(files *ConfigFiles) (*IntegrityResult, error) {
	result := &IntegrityResult{Passed: true}

	manifest, err := LoadChecksums(files.Root)
	if err != nil {
		if !errors.Is(err, errNoChecksums) {
			return nil, err
		}
		if len(files.HighSecurityFiles()) > 0 {
			result.Warnings = append(result.Warnings,
				"no .checksums manifest; credential files are unverified (run 'relwiz config lock')")
		}
		return result, nil
	}

	report := func(tier, msg string) {
		if tier == TierHighSecurity {
			result.Passed = false
			result.Errors = append(result.Errors, msg)
			return
		}
		result.Warnings = append(result.Warnings, msg)
	}

	seen := make(map[string]bool)
	for _, path := range files.AllFiles() {
		tier := files.FileTier(path)
		key, err := manifestKey(files.Root, path)
		if err != nil {
			return nil, err
		}
		seen[key] = true

		expected, ok := manifest.Hashes[key]
		if !ok {
			report(tier, fmt.Sprintf("file %s not in .checksums manifest", key))
			continue
		}
		actual, err := ComputeBlake3Hash(path)
		if err != nil {
			report(tier, fmt.Sprintf("failed to hash %s: %v", key, err))
			continue
		}
		if actual != expected {
			report(tier, fmt.Sprintf("hash mismatch for %s (expected %s, got %s)", key, expected, actual))
		}
	}

	for key := range manifest.Hashes {
		if !seen[key] {
			result.Warnings = append(result.Warnings, fmt.Sprintf("file %s is in .checksums but missing from disk", key))
		}
	}
	return result, nil
}
