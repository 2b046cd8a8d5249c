package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads the config directory: config.yaml and its includes in order,
// then connections.yaml and tokens.yaml. Files are verified against
// .checksums before anything is parsed.
func Load(configDir string) (*Config, []string, error) {
	files, err := DiscoverConfigFiles(configDir)
	if err != nil {
		return nil, nil, err
	}
	integrity, err := VerifyIntegrity(files)
	if err != nil {
		return nil, nil, err
	}
	if err := integrity.Err(); err != nil {
		return nil, integrity.Warnings, err
	}

	cfg := Defaults()
	cfg.Dir = files.Root
	if err := loadTree(cfg, files.Config, make(map[string]bool)); err != nil {
		return nil, integrity.Warnings, err
	}
	cfg.Include = nil

	if files.Connections != "" {
		if err := decodeFile(files.Connections, &cfg.Connections); err != nil {
			return nil, integrity.Warnings, err
		}
		cfg.Files = append(cfg.Files, files.Connections)
	}
	if files.Tokens != "" {
		var tf struct {
			Tokens []APIToken `yaml:"tokens"`
		}
		if err := decodeFile(files.Tokens, &tf); err != nil {
			return nil, integrity.Warnings, err
		}
		cfg.Tokens = append(cfg.Tokens, tf.Tokens...)
		cfg.Files = append(cfg.Files, files.Tokens)
	}

	if err := Validate(cfg); err != nil {
		return nil, integrity.Warnings, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, integrity.Warnings, nil
}

// loadTree decodes path onto cfg, then each of its includes depth first.
// Later files override earlier ones key by key.
func loadTree(cfg *Config, path string, stack map[string]bool) error {
	if stack[path] {
		return fmt.Errorf("include cycle detected at %s", path)
	}
	stack[path] = true
	defer delete(stack, path)

	cfg.Include = nil
	if err := decodeFile(path, cfg); err != nil {
		return err
	}
	cfg.Files = append(cfg.Files, path)
	includes := cfg.Include

	for i, inc := range includes {
		resolved, err := resolveInclude(filepath.Dir(path), inc)
		if err != nil {
			return fmt.Errorf("%s: include[%d]: %w", path, i, err)
		}
		if err := loadTree(cfg, resolved, stack); err != nil {
			return err
		}
	}
	return nil
}

// DiscoverIncludes returns the absolute paths of every file reachable through
// config.yaml's include lists, in load order.
func DiscoverIncludes(configPath string) ([]string, error) {
	var out []string
	seen := map[string]bool{configPath: true}
	var walk func(path string, stack map[string]bool) error
	walk = func(path string, stack map[string]bool) error {
		stack[path] = true
		defer delete(stack, path)

		var partial struct {
			Include []string `yaml:"include"`
		}
		data, err := readInterpolated(path)
		if err != nil {
			return err
		}
		if err := yaml.Unmarshal(data, &partial); err != nil {
			return fmt.Errorf("failed to parse YAML in %s: %w", path, err)
		}
		for i, inc := range partial.Include {
			resolved, err := resolveInclude(filepath.Dir(path), inc)
			if err != nil {
				return fmt.Errorf("%s: include[%d]: %w", path, i, err)
			}
			if stack[resolved] {
				return fmt.Errorf("include cycle detected at %s", resolved)
			}
			if !seen[resolved] {
				seen[resolved] = true
				out = append(out, resolved)
			}
			if err := walk(resolved, stack); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(configPath, make(map[string]bool)); err != nil {
		return nil, err
	}
	return out, nil
}

func resolveInclude(baseDir, include string) (string, error) {
	include = interpolateEnv(include)
	if !filepath.IsAbs(include) {
		include = filepath.Join(baseDir, include)
	}
	abs, err := filepath.Abs(include)
	if err != nil {
		return "", fmt.Errorf("failed to resolve path %q: %w", include, err)
	}
	if !fileExists(abs) {
		return "", fmt.Errorf("file not found: %s", abs)
	}
	return abs, nil
}

// decodeFile decodes one interpolated YAML file onto v. Unknown keys are
// rejected so typos do not silently fall back to defaults.
func decodeFile(path string, v any) error {
	data, err := readInterpolated(path)
	if err != nil {
		return err
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}

func readInterpolated(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return []byte(interpolateEnv(string(data))), nil
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Undefined variables are left as-is so Validate can report them.
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		name := envVarPattern.FindStringSubmatch(match)[1]
		if value, ok := os.LookupEnv(name); ok {
			return value
		}
		return match
	})
}
