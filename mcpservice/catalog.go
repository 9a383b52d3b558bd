package mcpservice

import (
	"context"
	"fmt"
	"strings"

	"github.com/factlore/wikipedia-mcp/wikipedia"
)

// Tool names in the fixed catalog.
const (
	ToolWikipediaSearch         = "wikipedia_search"
	ToolWikipediaSections       = "wikipedia_sections"
	ToolWikipediaSectionContent = "wikipedia_section_content"
)

// WikipediaTools builds the fixed three-tool catalog backed by src. Each
// tool is a thin pass-through: resolve arguments, call the content source,
// format the record as text.
func WikipediaTools(src wikipedia.ContentSource) []Tool {
	return []Tool{
		{
			Name:        ToolWikipediaSearch,
			Description: "Search Wikipedia for a topic and return the best-matching page's title, summary, and URL.",
			Params: []Param{
				{Name: "query", Description: "The search query or page title.", Type: ParamTypeString, Required: true},
			},
			Handler: func(ctx context.Context, args Args) (string, error) {
				res, err := src.Search(ctx, args.String("query"))
				if err != nil {
					return "", err
				}
				return formatSearchResult(res), nil
			},
		},
		{
			Name:        ToolWikipediaSections,
			Description: "List the section headings of a Wikipedia page.",
			Params: []Param{
				{Name: "topic", Description: "The page title to outline.", Type: ParamTypeString, Required: true},
			},
			Handler: func(ctx context.Context, args Args) (string, error) {
				res, err := src.ListSections(ctx, args.String("topic"))
				if err != nil {
					return "", err
				}
				return formatSectionList(res), nil
			},
		},
		{
			Name:        ToolWikipediaSectionContent,
			Description: "Fetch the content of one named section of a Wikipedia page.",
			Params: []Param{
				{Name: "topic", Description: "The page title.", Type: ParamTypeString, Required: true},
				{Name: "section_title", Description: "The heading of the section to fetch.", Type: ParamTypeString, Required: true},
			},
			Handler: func(ctx context.Context, args Args) (string, error) {
				res, err := src.GetSectionContent(ctx, args.String("topic"), args.String("section_title"))
				if err != nil {
					return "", err
				}
				return formatSectionContent(res), nil
			},
		},
	}
}

func formatSearchResult(res *wikipedia.SearchResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n\n", res.Title)
	if res.Summary != "" {
		fmt.Fprintf(&b, "%s\n\n", res.Summary)
	}
	fmt.Fprintf(&b, "URL: %s", res.URL)
	return b.String()
}

func formatSectionList(res *wikipedia.SectionList) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Sections of %s:\n", res.Title)
	if len(res.Sections) == 0 {
		b.WriteString("(no sections)\n")
	}
	for _, s := range res.Sections {
		fmt.Fprintf(&b, "- %s\n", s)
	}
	fmt.Fprintf(&b, "\nURL: %s", res.URL)
	return b.String()
}

func formatSectionContent(res *wikipedia.SectionContent) string {
	return fmt.Sprintf("%s\n\n%s", res.SectionTitle, res.Content)
}
