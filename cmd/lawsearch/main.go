package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"

	"lawchat-backend/corpus"
	"lawchat-backend/models"
	"lawchat-backend/search"
	"lawchat-backend/storage"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	var corpusPath string
	var asJSON bool

	defaultPath := os.Getenv("CORPUS_PATH")
	if defaultPath == "" {
		defaultPath = "data/articles.json"
	}

	root := &cobra.Command{
		Use:          "lawsearch",
		Short:        "Query a law article corpus file offline",
		SilenceUsage: true,
	}
	root.SetOut(out)
	root.PersistentFlags().StringVar(&corpusPath, "corpus", defaultPath, "JSON or YAML corpus file")
	root.PersistentFlags().BoolVar(&asJSON, "json", false, "print articles as JSON")

	loadEngine := func(ctx context.Context) (*search.Engine, *corpus.Corpus, error) {
		c, err := loadCorpus(ctx, corpusPath)
		if err != nil {
			return nil, nil, err
		}
		return search.NewEngine(c), c, nil
	}

	var limit int
	searchCmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Rank articles against a query (an article number does a direct lookup)",
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, _, err := loadEngine(cmd.Context())
			if err != nil {
				return err
			}
			articles := engine.Search(strings.Join(args, " "), limit)
			if asJSON {
				return printJSON(out, articles)
			}
			return printTable(out, articles)
		},
	}
	searchCmd.Flags().IntVarP(&limit, "limit", "n", search.DefaultLimit, "maximum number of results")

	lookupCmd := &cobra.Command{
		Use:   "lookup <number>",
		Short: "Print the article with the given number",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			number, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid article number %q", args[0])
			}
			engine, _, err := loadEngine(cmd.Context())
			if err != nil {
				return err
			}
			a, ok := engine.Lookup(number)
			if !ok {
				return fmt.Errorf("article %d not found", number)
			}
			if asJSON {
				return printJSON(out, a)
			}
			fmt.Fprintf(out, "Article %d: %s\n", a.Number, a.Title)
			if a.LawSource != "" {
				fmt.Fprintf(out, "Source:  %s\n", a.LawSource)
			}
			if a.PartName != "" || a.ChapterName != "" {
				fmt.Fprintf(out, "Where:   %s\n", strings.Trim(a.PartName+" / "+a.ChapterName, " /"))
			}
			if len(a.Tags) > 0 {
				fmt.Fprintf(out, "Tags:    %s\n", strings.Join(a.Tags, ", "))
			}
			fmt.Fprintf(out, "\n%s\n", a.BodyText)
			return nil
		},
	}

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Summarize the corpus",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, c, err := loadEngine(cmd.Context())
			if err != nil {
				return err
			}
			st := summarize(c)
			if asJSON {
				return printJSON(out, st)
			}
			fmt.Fprintf(out, "Articles: %d\n", st.Articles)
			fmt.Fprintf(out, "Tagged:   %d\n", st.Tagged)
			fmt.Fprintf(out, "Sources:\n")
			for _, s := range st.Sources {
				name := s.Name
				if name == "" {
					name = "(unspecified)"
				}
				fmt.Fprintf(out, "  %-30s %d\n", name, s.Count)
			}
			return nil
		},
	}

	root.AddCommand(searchCmd, lookupCmd, statsCmd)
	return root
}

func loadCorpus(ctx context.Context, path string) (*corpus.Corpus, error) {
	s, err := storage.NewLocalStorage(filepath.Dir(path))
	if err != nil {
		return nil, err
	}
	return corpus.Load(ctx, corpus.FileSource{Storage: s, Path: filepath.Base(path)})
}

type sourceCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

type corpusStats struct {
	Articles int           `json:"articles"`
	Tagged   int           `json:"tagged"`
	Sources  []sourceCount `json:"sources"`
}

func summarize(c *corpus.Corpus) corpusStats {
	st := corpusStats{Articles: c.Len()}
	counts := make(map[string]int)
	for _, a := range c.Articles() {
		counts[a.LawSource]++
		if len(a.Tags) > 0 {
			st.Tagged++
		}
	}
	for name, n := range counts {
		st.Sources = append(st.Sources, sourceCount{Name: name, Count: n})
	}
	sort.Slice(st.Sources, func(i, j int) bool {
		return st.Sources[i].Name < st.Sources[j].Name
	})
	return st
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printTable(out io.Writer, articles []models.Article) error {
	if len(articles) == 0 {
		fmt.Fprintln(out, "No matching articles")
		return nil
	}
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NUMBER\tTITLE\tSOURCE\tTAGS")
	for _, a := range articles {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", a.Number, a.Title, a.LawSource, strings.Join(a.Tags, ", "))
	}
	return tw.Flush()
}
