package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/MimeLyc/reactagent/internal/memory"
	"github.com/MimeLyc/reactagent/internal/persistence"
	"github.com/MimeLyc/reactagent/pkg/log"
)

const (
	DocumentSearchName = "document_search"

	defaultDocumentLimit = 5
	maxDocumentLimit     = 20
)

// DocumentSearcher is a ranked full-text index
type DocumentSearcher interface {
	SearchDocuments(ctx context.Context, query string, limit int) ([]persistence.DocumentHit, error)
}

// DocumentSearchTool retrieves passages from the local document index
type DocumentSearchTool struct {
	searcher DocumentSearcher
}

func NewDocumentSearchTool(searcher DocumentSearcher) *DocumentSearchTool {
	return &DocumentSearchTool{searcher: searcher}
}

func (t *DocumentSearchTool) Definition() Definition {
	return Definition{
		Name:        DocumentSearchName,
		Description: "Search the local knowledge base of indexed documents. Returns the best matching passages with their source.",
		Params: []ParamSpec{
			{Name: "query", Type: TypeString, Required: true,
				Description: "Keywords to look for."},
			{Name: "limit", Type: TypeInteger,
				Description: "Maximum number of passages (default 5)."},
		},
	}
}

func (t *DocumentSearchTool) Execute(ctx context.Context, params Parameters, mem memory.Sink) (Result, error) {
	query, err := params.RequireString("query")
	if err != nil {
		return ErrorResult("%v", err), nil
	}

	limit := params.Int("limit", defaultDocumentLimit)
	if limit < 1 {
		limit = 1
	}
	if limit > maxDocumentLimit {
		limit = maxDocumentLimit
	}

	hits, err := t.searcher.SearchDocuments(ctx, query, limit)
	if err != nil {
		return Result{}, err
	}

	if err := mem.AddToModule(ctx, DocumentSearchName, "tool", fmt.Sprintf("query=%q hits=%d", query, len(hits))); err != nil {
		log.Warn("document_search: failed to write memory: %v", err)
	}

	if len(hits) == 0 {
		return Result{Content: fmt.Sprintf("No documents matched %q.", query)}, nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d documents for %q:\n", len(hits), query)
	for i, hit := range hits {
		title := hit.Title
		if title == "" {
			title = hit.ID
		}
		fmt.Fprintf(&b, "\n%d. %s (score %.2f)\n", i+1, title, hit.Score)
		if hit.Source != "" {
			fmt.Fprintf(&b, "   Source: %s\n", hit.Source)
		}
		fmt.Fprintf(&b, "   %s\n", hit.Snippet)
	}
	return Result{Content: b.String()}, nil
}
