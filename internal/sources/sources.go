// Package sources reads crawl source definitions from YAML.
package sources

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/JakeFAU/crawl-ingest/internal/crawler"
)

type file struct {
	Sources []crawler.Source `yaml:"sources"`
}

// Load reads the sources file at path.
func Load(path string) ([]crawler.Source, error) {
	// #nosec G304 -- the path comes from operator configuration.
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sources file: %w", err)
	}
	return Parse(bytes.NewReader(data))
}

// Parse decodes a sources document. Unknown keys are rejected, every source
// needs an id and a base_url, and ids must be unique.
func Parse(r io.Reader) ([]crawler.Source, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var f file
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode sources: %w", err)
	}
	seen := make(map[string]struct{}, len(f.Sources))
	for i, src := range f.Sources {
		src.ID = strings.TrimSpace(src.ID)
		switch {
		case src.ID == "":
			return nil, fmt.Errorf("source %d: id is required", i)
		case strings.TrimSpace(src.BaseURL) == "":
			return nil, fmt.Errorf("source %s: base_url is required", src.ID)
		case src.Status != "" && src.Status != crawler.SourceStatusActive && src.Status != crawler.SourceStatusInactive:
			return nil, fmt.Errorf("source %s: unknown status %q", src.ID, src.Status)
		}
		if _, dup := seen[src.ID]; dup {
			return nil, fmt.Errorf("source %s: duplicate id", src.ID)
		}
		seen[src.ID] = struct{}{}
		if src.Name == "" {
			src.Name = src.ID
		}
		f.Sources[i] = src
	}
	return f.Sources, nil
}
