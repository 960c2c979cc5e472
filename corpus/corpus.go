// Package corpus holds the immutable in-memory collection of law articles.
//
// A Corpus is built once at startup from an external source (a JSON or YAML
// file on local disk or S3, or the law_articles table) and is read
// concurrently for the rest of the process lifetime. Nothing mutates it
// after construction, so readers need no locking.
package corpus

import (
	"context"
	"errors"
	"fmt"

	"lawchat-backend/models"
)

var (
	ErrInvalidNumber   = errors.New("article number must be positive")
	ErrDuplicateNumber = errors.New("duplicate article number within law source")
)

// Corpus is an ordered, read-only sequence of articles
type Corpus struct {
	articles []models.Article
}

// New validates articles and returns a corpus holding a private copy of them.
// Numbers must be positive and unique within a law source.
func New(articles []models.Article) (*Corpus, error) {
	type key struct {
		source string
		number int
	}
	seen := make(map[key]int, len(articles))

	owned := make([]models.Article, len(articles))
	for i, a := range articles {
		if a.Number <= 0 {
			return nil, fmt.Errorf("article at position %d: %w (got %d)", i, ErrInvalidNumber, a.Number)
		}
		k := key{source: a.LawSource, number: a.Number}
		if first, ok := seen[k]; ok {
			return nil, fmt.Errorf("article %d in %q at positions %d and %d: %w",
				a.Number, a.LawSource, first, i, ErrDuplicateNumber)
		}
		seen[k] = i

		a.Tags = append([]string{}, a.Tags...)
		owned[i] = a
	}

	return &Corpus{articles: owned}, nil
}

// Len returns the number of articles
func (c *Corpus) Len() int {
	return len(c.articles)
}

// Articles returns the articles in corpus order.
// The returned slice is shared and must not be modified.
func (c *Corpus) Articles() []models.Article {
	return c.articles
}

// Source supplies the raw article sequence at startup
type Source interface {
	ListAll(ctx context.Context) ([]models.Article, error)
}

// Load reads every article from src and builds a corpus
func Load(ctx context.Context, src Source) (*Corpus, error) {
	articles, err := src.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load corpus: %w", err)
	}
	return New(articles)
}
