package labelformat

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// Parse parses a JSON label template from a byte slice
func Parse(data []byte) (*Template, error) {
	var t Template
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to parse template: %w", err)
	}

	if err := Validate(&t); err != nil {
		return nil, err
	}

	return &t, nil
}

// ParseTOML parses a TOML label template from a byte slice
func ParseTOML(data []byte) (*Template, error) {
	var t Template
	if err := toml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to parse template: %w", err)
	}

	if err := Validate(&t); err != nil {
		return nil, err
	}

	return &t, nil
}

// ParseFile parses a template file from disk. Files ending in .toml are read
// as TOML, anything else as JSON.
func ParseFile(path string) (*Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read template file: %w", err)
	}

	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return ParseTOML(data)
	}
	return Parse(data)
}

// Load reads a template from a local path or an http(s) URL. URLs whose
// path ends in .toml are read as TOML.
func Load(pathOrURL string) (*Template, error) {
	if !strings.HasPrefix(pathOrURL, "http://") && !strings.HasPrefix(pathOrURL, "https://") {
		return ParseFile(pathOrURL)
	}

	resp, err := http.Get(pathOrURL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch template from URL: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch template: HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read template from URL: %w", err)
	}

	if u, err := url.Parse(pathOrURL); err == nil && strings.EqualFold(path.Ext(u.Path), ".toml") {
		return ParseTOML(data)
	}
	return Parse(data)
}

// ToJSON converts a Template to JSON bytes
func (t *Template) ToJSON() ([]byte, error) {
	return json.MarshalIndent(t, "", "  ")
}

// ToTOML converts a Template to TOML bytes
func (t *Template) ToTOML() ([]byte, error) {
	return toml.Marshal(t)
}

// SaveToFile saves a Template to a file, picking the encoding from the extension
func (t *Template) SaveToFile(path string) error {
	var (
		data []byte
		err  error
	)
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		data, err = t.ToTOML()
	} else {
		data, err = t.ToJSON()
	}
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}
