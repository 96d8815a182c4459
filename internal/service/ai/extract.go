package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudwego/eino-ext/components/document/loader/file"
	"github.com/cloudwego/eino/components/document"
	"github.com/cloudwego/eino/components/document/parser"
)

// ErrUnreadableDocument marks attachments whose bytes could not be parsed
// into text. Callers degrade to a placeholder part instead of failing the
// whole turn.
var ErrUnreadableDocument = errors.New("document is not parseable")

// Extraction is the textual rendering of a binary document.
type Extraction struct {
	Text      string
	PageCount int
	Title     string
	Author    string
}

// Extractor converts stored documents into plain text using the document
// loader stack, with a plain-text fallback for unknown extensions.
type Extractor struct {
	loader *file.FileLoader
}

// NewExtractor builds the production extractor.
func NewExtractor(ctx context.Context) (*Extractor, error) {
	parserExt, err := parser.NewExtParser(ctx, &parser.ExtParserConfig{
		FallbackParser: parser.TextParser{},
	})
	if err != nil {
		return nil, fmt.Errorf("init document parser: %w", err)
	}
	loader, err := file.NewFileLoader(ctx, &file.FileLoaderConfig{
		UseNameAsID: true,
		Parser:      parserExt,
	})
	if err != nil {
		return nil, fmt.Errorf("init file loader: %w", err)
	}
	return &Extractor{loader: loader}, nil
}

// Extract loads the document at source and returns its text plus any
// lightweight metadata the parser surfaced.
func (e *Extractor) Extract(ctx context.Context, source string) (*Extraction, error) {
	docs, err := e.loader.Load(ctx, document.Source{URI: source})
	if err != nil {
		return nil, fmt.Errorf("load document %s: %w", source, err)
	}

	ext := &Extraction{PageCount: len(docs)}
	var builder strings.Builder
	for _, doc := range docs {
		if doc == nil {
			continue
		}
		content := strings.TrimSpace(doc.Content)
		if content != "" {
			if builder.Len() > 0 {
				builder.WriteString("\n\n")
			}
			builder.WriteString(content)
		}
		if ext.Title == "" {
			ext.Title = metaString(doc.MetaData, "title")
		}
		if ext.Author == "" {
			ext.Author = metaString(doc.MetaData, "author")
		}
	}
	ext.Text = builder.String()
	if ext.Text == "" {
		return nil, fmt.Errorf("%s: %w", source, ErrUnreadableDocument)
	}
	return ext, nil
}

func metaString(meta map[string]any, key string) string {
	if meta == nil {
		return ""
	}
	if val, ok := meta[key].(string); ok {
		return strings.TrimSpace(val)
	}
	return ""
}
