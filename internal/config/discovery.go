package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// File security tiers. A high-security file that fails verification stops the
// service; an operational one only warns.
const (
	TierOperational  = "operational"
	TierHighSecurity = "high_security"
)

// ConfigFiles is the manifest of files found in a config directory.
type ConfigFiles struct {
	Root        string
	Config      string
	Includes    []string
	Connections string
	Tokens      string
	Projects    []string
}

// DiscoverConfigFiles walks a config directory. config.yaml is required.
func DiscoverConfigFiles(configDir string) (*ConfigFiles, error) {
	absDir, err := filepath.Abs(configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config dir %q: %w", configDir, err)
	}

	cf := &ConfigFiles{Root: absDir}
	configPath := filepath.Join(absDir, "config.yaml")
	if !fileExists(configPath) {
		return nil, fmt.Errorf("config.yaml not found in %s", absDir)
	}
	cf.Config = configPath

	cf.Includes, err = DiscoverIncludes(configPath)
	if err != nil {
		return nil, err
	}
	if path := filepath.Join(absDir, "connections.yaml"); fileExists(path) {
		cf.Connections = path
	}
	if path := filepath.Join(absDir, "tokens.yaml"); fileExists(path) {
		cf.Tokens = path
	}

	cf.Projects, err = walkYAMLDir(filepath.Join(absDir, "projects"))
	if err != nil {
		return nil, fmt.Errorf("failed to walk projects/: %w", err)
	}
	return cf, nil
}

// AllFiles returns every discovered file, config.yaml first.
func (cf *ConfigFiles) AllFiles() []string {
	files := append([]string{cf.Config}, cf.Includes...)
	if cf.Connections != "" {
		files = append(files, cf.Connections)
	}
	if cf.Tokens != "" {
		files = append(files, cf.Tokens)
	}
	return append(files, cf.Projects...)
}

// HighSecurityFiles returns the discovered credential files.
func (cf *ConfigFiles) HighSecurityFiles() []string {
	var files []string
	for _, f := range cf.AllFiles() {
		if cf.FileTier(f) == TierHighSecurity {
			files = append(files, f)
		}
	}
	return files
}

func (cf *ConfigFiles) FileTier(path string) string {
	if path != "" && (path == cf.Connections || path == cf.Tokens) {
		return TierHighSecurity
	}
	return TierOperational
}

// DiscoverConfigDir finds the config directory.
// Priority: flag, $RELWIZ_CONFIG_DIR, ~/.config/relwiz, /etc/relwiz.
func DiscoverConfigDir(flagValue string) (string, error) {
	if flagValue != "" {
		info, err := os.Stat(flagValue)
		if err != nil {
			return "", fmt.Errorf("config path %s: %w", flagValue, err)
		}
		if !info.IsDir() {
			return filepath.Dir(flagValue), nil
		}
		return flagValue, nil
	}

	var checked []string
	if dir := os.Getenv("RELWIZ_CONFIG_DIR"); dir != "" {
		if dirExists(dir) {
			return dir, nil
		}
		checked = append(checked, dir)
	} else {
		checked = append(checked, "$RELWIZ_CONFIG_DIR")
	}

	if homeDir, err := os.UserHomeDir(); err == nil {
		userDir := filepath.Join(homeDir, ".config", "relwiz")
		if fileExists(filepath.Join(userDir, "config.yaml")) {
			return userDir, nil
		}
		checked = append(checked, userDir)
	}

	const systemDir = "/etc/relwiz"
	if fileExists(filepath.Join(systemDir, "config.yaml")) {
		return systemDir, nil
	}
	checked = append(checked, systemDir)

	return "", fmt.Errorf("no config found (checked: %s)", strings.Join(checked, ", "))
}

// walkYAMLDir returns sorted absolute paths of *.yaml and *.yml files in dir.
// A missing directory yields nil.
func walkYAMLDir(dir string) ([]string, error) {
	if !dirExists(dir) {
		return nil, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if ext := filepath.Ext(entry.Name()); ext == ".yaml" || ext == ".yml" {
			files = append(files, filepath.Join(dir, entry.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
