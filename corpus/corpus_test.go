package corpus

import (
	"context"
	"errors"
	"strings"
	"testing"

	"lawchat-backend/models"
	"lawchat-backend/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_ValidatesNumbers(t *testing.T) {
	_, err := New([]models.Article{{Number: 0, Title: "zero"}})
	assert.ErrorIs(t, err, ErrInvalidNumber)

	_, err = New([]models.Article{{Number: 3}, {Number: 3}})
	assert.ErrorIs(t, err, ErrDuplicateNumber)

	c, err := New([]models.Article{
		{Number: 3, LawSource: "Constitution"},
		{Number: 3, LawSource: "Penal Code"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, c.Len())
}

func TestNew_OwnsItsArticles(t *testing.T) {
	input := []models.Article{{Number: 1, Title: "First", Tags: []string{"a"}}, {Number: 2}}
	c, err := New(input)
	require.NoError(t, err)

	input[0].Title = "changed"
	input[0].Tags[0] = "changed"

	assert.Equal(t, "First", c.Articles()[0].Title)
	assert.Equal(t, []string{"a"}, c.Articles()[0].Tags)
	assert.NotNil(t, c.Articles()[1].Tags)
}

func TestDecode_JSON(t *testing.T) {
	articles, err := Decode(strings.NewReader(`[
		{"number": 25, "title": "Equality of Citizens", "chapterName": "Fundamental Rights",
		 "partName": "Part II", "lawSource": "Constitution", "bodyText": "All citizens are equal.",
		 "tags": ["equality"]}
	]`), FormatJSON)
	require.NoError(t, err)
	require.Len(t, articles, 1)
	assert.Equal(t, models.Article{
		Number:      25,
		Title:       "Equality of Citizens",
		ChapterName: "Fundamental Rights",
		PartName:    "Part II",
		LawSource:   "Constitution",
		BodyText:    "All citizens are equal.",
		Tags:        []string{"equality"},
	}, articles[0])
}

func TestDecode_YAML(t *testing.T) {
	articles, err := Decode(strings.NewReader(`
- number: 9
  title: Bill of Rights
  bodyText: Fundamental rights are guaranteed.
  tags: [bill of rights, human rights]
- number: 10
  title: Safeguards as to arrest
`), FormatYAML)
	require.NoError(t, err)
	require.Len(t, articles, 2)
	assert.Equal(t, 9, articles[0].Number)
	assert.Equal(t, []string{"bill of rights", "human rights"}, articles[0].Tags)
	assert.Equal(t, "Safeguards as to arrest", articles[1].Title)
}

func TestDecode_Errors(t *testing.T) {
	_, err := Decode(strings.NewReader(`{"number":1}`), FormatJSON)
	assert.Error(t, err)

	_, err = Decode(strings.NewReader(`[]`), Format("toml"))
	assert.Error(t, err)
}

func TestFormatFromPath(t *testing.T) {
	assert.Equal(t, FormatYAML, FormatFromPath("data/articles.yaml"))
	assert.Equal(t, FormatYAML, FormatFromPath("ARTICLES.YML"))
	assert.Equal(t, FormatJSON, FormatFromPath("data/articles.json"))
	assert.Equal(t, FormatJSON, FormatFromPath("articles"))
}

func TestLoad_FromFileSource(t *testing.T) {
	s, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, s.Upload(ctx, "articles.yml", strings.NewReader("- number: 1\n  title: One\n- number: 2\n  title: Two\n")))

	c, err := Load(ctx, FileSource{Storage: s, Path: "articles.yml"})
	require.NoError(t, err)
	assert.Equal(t, 2, c.Len())
	assert.Equal(t, "Two", c.Articles()[1].Title)
}

type failingSource struct{}

func (failingSource) ListAll(context.Context) ([]models.Article, error) {
	return nil, errors.New("connection refused")
}

func TestLoad_SourceError(t *testing.T) {
	_, err := Load(context.Background(), failingSource{})
	assert.ErrorContains(t, err, "connection refused")
}
