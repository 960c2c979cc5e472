package corpus

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"lawchat-backend/models"
	"lawchat-backend/storage"

	"gopkg.in/yaml.v3"
)

// Format is the encoding of a corpus file
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// FormatFromPath picks the format from the file extension, defaulting to JSON
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// Decode reads a top-level array of articles
func Decode(r io.Reader, format Format) ([]models.Article, error) {
	var articles []models.Article
	switch format {
	case FormatYAML:
		if err := yaml.NewDecoder(r).Decode(&articles); err != nil {
			return nil, fmt.Errorf("failed to decode yaml corpus: %w", err)
		}
	case FormatJSON, "":
		if err := json.NewDecoder(r).Decode(&articles); err != nil {
			return nil, fmt.Errorf("failed to decode json corpus: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown corpus format: %s", format)
	}
	return articles, nil
}

// FileSource reads a corpus file from a Storage backend
type FileSource struct {
	Storage storage.Storage
	Path    string
}

// ListAll downloads and decodes the corpus file
func (s FileSource) ListAll(ctx context.Context) ([]models.Article, error) {
	rc, err := s.Storage.Download(ctx, s.Path)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	return Decode(rc, FormatFromPath(s.Path))
}
