// Package precompute builds the precomputed sentence dataset offline by
// running the phoneme and model stages for every sentence in a manifest.
package precompute

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/book-expert/pronunciation-service/internal/text"
	"github.com/pelletier/go-toml/v2"
)

var (
	// ErrManifestEmpty indicates a manifest without sentences.
	ErrManifestEmpty = errors.New("manifest has no sentences")
	// ErrDuplicateID indicates two manifest entries share an id.
	ErrDuplicateID = errors.New("duplicate sentence id")
	// ErrSentenceTextEmpty indicates a manifest entry without text.
	ErrSentenceTextEmpty = errors.New("sentence text cannot be empty")
)

// Entry is one sentence to precompute.
type Entry struct {
	ID    int    `toml:"id"`
	Order int    `toml:"order"`
	Level string `toml:"level"`
	Text  string `toml:"text"`
}

// Manifest lists the sentences of a dataset:
//
//	[[sentence]]
//	id = 1
//	order = 1
//	level = "beginner"
//	text = "안녕하세요"
type Manifest struct {
	Sentences []Entry `toml:"sentence"`
}

// LoadManifest reads and validates a manifest file.
func LoadManifest(path string) (*Manifest, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open manifest: %w", err)
	}
	defer file.Close()

	return ParseManifest(file)
}

// ParseManifest decodes and validates a manifest. Texts are normalized and an
// unset order defaults to the id.
func ParseManifest(r io.Reader) (*Manifest, error) {
	var manifest Manifest

	err := toml.NewDecoder(r).DisallowUnknownFields().Decode(&manifest)
	if err != nil {
		return nil, fmt.Errorf("failed to decode manifest: %w", err)
	}

	if len(manifest.Sentences) == 0 {
		return nil, ErrManifestEmpty
	}

	seen := make(map[int]struct{}, len(manifest.Sentences))

	for i := range manifest.Sentences {
		entry := &manifest.Sentences[i]

		entry.Text = text.NormalizeSpaces(entry.Text)
		if entry.Text == "" {
			return nil, fmt.Errorf("%w: id %d", ErrSentenceTextEmpty, entry.ID)
		}

		if _, ok := seen[entry.ID]; ok {
			return nil, fmt.Errorf("%w: %d", ErrDuplicateID, entry.ID)
		}

		seen[entry.ID] = struct{}{}

		if entry.Order == 0 {
			entry.Order = entry.ID
		}
	}

	return &manifest, nil
}
