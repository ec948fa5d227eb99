package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

const (
	maxLayerBytes = 10 << 20
	maxJSONDepth  = 100
	maxEnvBytes   = 10000
)

var layerExtensions = []string{".json", ".yml", ".yaml"}

// readLayer reads one config file layer. Layers are YAML or JSON regular
// files named without parent references.
func readLayer(path string) ([]byte, error) {
	if path == "" {
		return nil, errors.New("empty config path")
	}
	if slices.Contains(strings.Split(filepath.ToSlash(path), "/"), "..") {
		return nil, fmt.Errorf("config path %s must not contain '..'", path)
	}
	ext := strings.ToLower(filepath.Ext(path))
	if !slices.Contains(layerExtensions, ext) {
		return nil, fmt.Errorf("config file %s must be one of %s", path, strings.Join(layerExtensions, ", "))
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%s is not a regular file", path)
	}
	if info.Size() > maxLayerBytes {
		return nil, fmt.Errorf("%s is %d bytes, limit is %d", path, info.Size(), maxLayerBytes)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if ext == ".json" {
		if err := checkJSONDepth(data); err != nil {
			return nil, fmt.Errorf("invalid JSON structure: %w", err)
		}
	}
	return data, nil
}

// checkJSONDepth walks the token stream and fails once arrays and objects
// nest deeper than maxJSONDepth.
func checkJSONDepth(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	depth := 0
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		delim, ok := tok.(json.Delim)
		if !ok {
			continue
		}
		switch delim {
		case '{', '[':
			depth++
			if depth > maxJSONDepth {
				return fmt.Errorf("nesting exceeds %d levels", maxJSONDepth)
			}
		default:
			depth--
		}
	}
}

func checkEnvValue(key, value string) error {
	if len(value) > maxEnvBytes {
		return fmt.Errorf("environment variable %s exceeds %d bytes", key, maxEnvBytes)
	}
	if strings.IndexByte(value, 0) >= 0 {
		return fmt.Errorf("environment variable %s contains a NUL byte", key)
	}
	return nil
}
