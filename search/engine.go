// Package search ranks law articles against free-text queries.
//
// The Engine is a pure function of its corpus: it performs no I/O and holds
// no mutable state after construction, so one Engine is shared by every
// stream without locking.
package search

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"lawchat-backend/corpus"
	"lawchat-backend/models"
)

// DefaultLimit is used when the caller omits a limit
const DefaultLimit = 3

// Score weights
const (
	scoreFieldPhrase = 200
	scoreTitlePhrase = 150
	scoreTagPhrase   = 100
	scoreToken       = 20
	scoreTitlePrefix = 50
)

// minTokenLen drops short noise words from the token set
const minTokenLen = 3

var directLookup = regexp.MustCompile(`^(?:article)?\s*(\d+)$`)

// indexedArticle caches the lowercase fields used for scoring
type indexedArticle struct {
	field string
	title string
	tags  []string
}

// ScoredCandidate is an article paired with its query score
type ScoredCandidate struct {
	Article *models.Article
	Score   int
}

// Engine ranks the articles of a single corpus
type Engine struct {
	articles []models.Article
	index    []indexedArticle
}

// NewEngine builds an engine over c. Lowercase search fields are computed
// here once so queries never allocate them again.
func NewEngine(c *corpus.Corpus) *Engine {
	articles := c.Articles()
	index := make([]indexedArticle, len(articles))
	for i, a := range articles {
		tags := make([]string, len(a.Tags))
		for j, t := range a.Tags {
			tags[j] = strings.ToLower(t)
		}
		index[i] = indexedArticle{
			field: a.SearchField(),
			title: strings.ToLower(a.Title),
			tags:  tags,
		}
	}
	return &Engine{articles: articles, index: index}
}

// Size returns the number of searchable articles
func (e *Engine) Size() int {
	return len(e.articles)
}

// Search returns at most limit articles ordered by relevance.
//
// An empty query yields the first limit articles in corpus order. A query of
// the form "article 12" or "12" is a direct lookup by number and returns at
// most one article regardless of limit. A limit of zero or less means the
// caller omitted it and DefaultLimit applies.
func (e *Engine) Search(query string, limit int) []models.Article {
	if limit <= 0 {
		limit = DefaultLimit
	}

	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		n := min(limit, len(e.articles))
		out := make([]models.Article, n)
		copy(out, e.articles[:n])
		return out
	}

	if number, ok := parseDirectLookup(q); ok {
		if a, found := e.Lookup(number); found {
			return []models.Article{a}
		}
		return []models.Article{}
	}

	candidates := e.Rank(q)
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}

	out := make([]models.Article, len(candidates))
	for i, c := range candidates {
		out[i] = *c.Article
	}
	return out
}

// Lookup returns the first article in corpus order whose number matches
func (e *Engine) Lookup(number int) (models.Article, bool) {
	for i := range e.articles {
		if e.articles[i].Number == number {
			return e.articles[i], true
		}
	}
	return models.Article{}, false
}

// Rank scores every article against an already folded and trimmed query and
// returns the non-zero candidates, best first. Ties keep corpus order.
func (e *Engine) Rank(q string) []ScoredCandidate {
	tokens := tokenize(q)

	var candidates []ScoredCandidate
	for i := range e.index {
		score := scoreArticle(&e.index[i], q, tokens)
		if score == 0 {
			continue
		}
		candidates = append(candidates, ScoredCandidate{Article: &e.articles[i], Score: score})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})
	return candidates
}

func scoreArticle(ia *indexedArticle, q string, tokens []string) int {
	score := 0

	if strings.Contains(ia.field, q) {
		score += scoreFieldPhrase
	}
	if strings.Contains(ia.title, q) {
		score += scoreTitlePhrase
	}
	for _, tag := range ia.tags {
		if strings.Contains(tag, q) {
			score += scoreTagPhrase
			break
		}
	}
	for _, tok := range tokens {
		if strings.Contains(ia.field, tok) {
			score += scoreToken
		}
	}
	if strings.HasPrefix(ia.title, q) {
		score += scoreTitlePrefix
	}

	return score
}

func tokenize(q string) []string {
	fields := strings.Fields(q)
	tokens := fields[:0]
	for _, f := range fields {
		if utf8.RuneCountInString(f) >= minTokenLen {
			tokens = append(tokens, f)
		}
	}
	return tokens
}

// parseDirectLookup reports whether q is a bare article number reference.
// A number too large to parse still counts as a lookup and yields -1,
// which matches no article.
func parseDirectLookup(q string) (int, bool) {
	m := directLookup.FindStringSubmatch(q)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return -1, true
	}
	return n, true
}
