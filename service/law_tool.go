package service

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"lawchat-backend/models"
	"lawchat-backend/provider"
)

// SearchToolName is the only tool the model may call
const SearchToolName = "search_law_articles"

// DefaultToolLimit applies when the model omits limit
const DefaultToolLimit = 5

var (
	ErrUnknownTool          = errors.New("unknown tool")
	ErrInvalidToolArguments = errors.New("invalid tool arguments")
)

// ArticleSearcher is the ranking engine as seen by the orchestrator
type ArticleSearcher interface {
	Search(query string, limit int) []models.Article
}

// SearchArgs are the decoded arguments of search_law_articles
type SearchArgs struct {
	Query string
	Limit *int
}

// SearchToolDefinition declares search_law_articles to the model
func SearchToolDefinition() provider.ToolDefinition {
	return provider.ToolDefinition{
		Name: SearchToolName,
		Description: "Search the statute corpus for law articles relevant to a question. " +
			"You MUST call this tool before answering any question about legal substance. " +
			"Pass an article number (for example \"25\" or \"article 25\") to fetch that article directly.",
		Parameters: provider.ToolParameters{
			Properties: []provider.ToolParameter{
				{
					Name:        "query",
					Type:        "string",
					Description: "Keywords, a legal topic, or an article number",
					Required:    true,
				},
				{
					Name:        "limit",
					Type:        "integer",
					Description: "Maximum number of articles to return (default 5)",
				},
			},
		},
	}
}

// ParseSearchArgs decodes raw tool arguments. The whole input must be one
// JSON object; the query must be present and a string; limit is optional and
// must be a whole number when given, so 3 and 3.0 are both accepted.
func ParseSearchArgs(raw string) (SearchArgs, error) {
	var wire struct {
		Query *string  `json:"query"`
		Limit *float64 `json:"limit"`
	}

	if err := json.Unmarshal([]byte(raw), &wire); err != nil {
		return SearchArgs{}, fmt.Errorf("%w: %v", ErrInvalidToolArguments, err)
	}
	if wire.Query == nil {
		return SearchArgs{}, fmt.Errorf("%w: query is required", ErrInvalidToolArguments)
	}

	args := SearchArgs{Query: *wire.Query}
	if wire.Limit != nil {
		f := *wire.Limit
		if f != math.Trunc(f) || f < math.MinInt32 || f > math.MaxInt32 {
			return SearchArgs{}, fmt.Errorf("%w: limit must be an integer", ErrInvalidToolArguments)
		}
		limit := int(f)
		args.Limit = &limit
	}
	return args, nil
}

// toolError is the structured tool result sent when a call cannot run
type toolError struct {
	Error string `json:"error"`
}

// executeTool runs one tool call and returns the JSON result for both the
// client frame and the model. Failures become an error object, never a panic.
func executeTool(searcher ArticleSearcher, call provider.ToolCall, defaultLimit int) (string, error) {
	if call.Name != SearchToolName {
		err := fmt.Errorf("%w: %s", ErrUnknownTool, call.Name)
		return marshalToolError(err), err
	}

	args, err := ParseSearchArgs(call.Arguments)
	if err != nil {
		return marshalToolError(err), err
	}

	limit := defaultLimit
	if args.Limit != nil && *args.Limit > 0 {
		limit = *args.Limit
	}

	articles := searcher.Search(args.Query, limit)
	if articles == nil {
		articles = []models.Article{}
	}

	b, err := json.Marshal(articles)
	if err != nil {
		err = fmt.Errorf("failed to encode search results: %w", err)
		return marshalToolError(err), err
	}
	return string(b), nil
}

func marshalToolError(err error) string {
	b, _ := json.Marshal(toolError{Error: err.Error()})
	return string(b)
}
