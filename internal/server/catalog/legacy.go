package catalog

import (
	"fmt"
	"io"
	"os"

	"github.com/goccy/go-json"
	"gopkg.in/yaml.v3"
)

// ReadDigests decodes a JSON object of relative path -> digest
func ReadDigests(r io.Reader) (Digests, error) {
	var digests Digests
	if err := json.NewDecoder(r).Decode(&digests); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	if digests == nil {
		digests = Digests{}
	}
	return digests, nil
}

// WriteDigests encodes digests as an indented JSON object
func WriteDigests(w io.Writer, digests Digests) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(digests)
}

// legacyPathFile is the single-key yaml file older deployments used to name the library
type legacyPathFile struct {
	MusicPath string `yaml:"musicPath"`
}

// ReadLegacyContentRoot returns the musicPath value from a legacy yaml file
func ReadLegacyContentRoot(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}

	var f legacyPathFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return "", fmt.Errorf("parse %s: %w", path, err)
	}
	if f.MusicPath == "" {
		return "", fmt.Errorf("%s has no musicPath", path)
	}
	return f.MusicPath, nil
}
