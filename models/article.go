package models

import "strings"

// Article is a single statute article from the law corpus.
// Articles are loaded once at startup and never mutated afterwards.
type Article struct {
	Number      int      `json:"number" yaml:"number"`
	Title       string   `json:"title" yaml:"title"`
	ChapterName string   `json:"chapterName" yaml:"chapterName"`
	PartName    string   `json:"partName" yaml:"partName"`
	LawSource   string   `json:"lawSource" yaml:"lawSource"`
	BodyText    string   `json:"bodyText" yaml:"bodyText"`
	Tags        []string `json:"tags" yaml:"tags"`
}

// SearchField returns the lowercase concatenation of every searchable field
func (a Article) SearchField() string {
	var b strings.Builder
	b.WriteString(a.Title)
	b.WriteByte(' ')
	b.WriteString(a.BodyText)
	b.WriteByte(' ')
	b.WriteString(a.ChapterName)
	b.WriteByte(' ')
	b.WriteString(a.PartName)
	for _, tag := range a.Tags {
		b.WriteByte(' ')
		b.WriteString(tag)
	}
	return strings.ToLower(b.String())
}
