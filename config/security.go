package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Limits on untrusted configuration input.
const (
	maxConfigSize = 1 << 20
	maxJSONDepth  = 32
	maxEnvVarLen  = 4096
	maxPathLen    = 4096
)

// checkConfigPath accepts JSON and YAML files. Relative paths must stay
// inside the working directory.
func checkConfigPath(path string) error {
	switch {
	case path == "":
		return fmt.Errorf("empty config path")
	case len(path) > maxPathLen:
		return fmt.Errorf("path too long: %d > %d", len(path), maxPathLen)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".yaml", ".yml":
	default:
		return fmt.Errorf("only .json, .yaml and .yml config files allowed: %s", path)
	}

	if filepath.IsAbs(path) {
		return nil
	}
	rel := filepath.Clean(path)
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("config path %s escapes the working directory", path)
	}
	return nil
}

// safeReadFile reads at most maxConfigSize bytes from a regular file.
func safeReadFile(path string) ([]byte, error) {
	if err := checkConfigPath(path); err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%s is not a regular file", path)
	}

	data, err := io.ReadAll(io.LimitReader(f, maxConfigSize+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxConfigSize {
		return nil, fmt.Errorf("config file %s exceeds %d bytes", path, maxConfigSize)
	}
	return data, nil
}

func safeWriteFile(path string, data []byte) error {
	if err := checkConfigPath(path); err != nil {
		return err
	}
	if len(data) > maxConfigSize {
		return fmt.Errorf("encoded config exceeds %d bytes", maxConfigSize)
	}
	return os.WriteFile(path, data, 0o600)
}

func checkEnvValue(name, value string) error {
	if len(value) > maxEnvVarLen {
		return fmt.Errorf("%s is longer than %d bytes", name, maxEnvVarLen)
	}
	if strings.IndexByte(value, 0) >= 0 {
		return fmt.Errorf("%s contains a NUL byte", name)
	}
	return nil
}

// validateJSONDepth bounds nesting before the document reaches the decoder.
// Brackets inside string literals are skipped.
func validateJSONDepth(data []byte) error {
	var depth int
	var inString, escaped bool

	for _, b := range data {
		if inString {
			switch {
			case escaped:
				escaped = false
			case b == '\\':
				escaped = true
			case b == '"':
				inString = false
			}
			continue
		}
		switch b {
		case '"':
			inString = true
		case '{', '[':
			if depth++; depth > maxJSONDepth {
				return fmt.Errorf("JSON nesting too deep: more than %d levels", maxJSONDepth)
			}
		case '}', ']':
			if depth--; depth < 0 {
				return fmt.Errorf("malformed JSON: unbalanced brackets")
			}
		}
	}
	if depth != 0 {
		return fmt.Errorf("malformed JSON: %d unclosed brackets", depth)
	}
	return nil
}
