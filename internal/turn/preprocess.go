package turn

import (
	"context"
	"fmt"
	"log"
	"strings"

	"careerpilot/internal/models"
)

// extractableKinds are the media kinds whose contents become inline text
// before the model ever sees the turn. Image kinds pass through untouched
// for multimodal providers.
var extractableKinds = map[string]bool{
	"application/pdf":    true,
	"application/msword": true,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": true,
	"text/plain":    true,
	"text/markdown": true,
	"text/csv":      true,
}

// Preprocessor rewrites document attachments into text parts. It runs on
// every turn and is idempotent: text parts pass through unchanged, so a
// history whose attachments were converted in an earlier turn is not
// extracted a second time.
type Preprocessor struct {
	extractor Extractor
}

func NewPreprocessor(e Extractor) *Preprocessor {
	return &Preprocessor{extractor: e}
}

// Run returns the message list with every extractable file part replaced
// in place by a text part. Messages without such parts are shared with
// the input; rewritten messages are copies.
func (p *Preprocessor) Run(ctx context.Context, msgs []*models.Message) []*models.Message {
	out := make([]*models.Message, len(msgs))
	for i, m := range msgs {
		out[i] = p.rewrite(ctx, m)
	}
	return out
}

func (p *Preprocessor) rewrite(ctx context.Context, m *models.Message) *models.Message {
	if m == nil || !hasExtractablePart(m) {
		return m
	}
	clone := *m
	clone.Parts = m.ClonedParts()
	for i, part := range clone.Parts {
		if part.Type != models.PartTypeFile || !extractableKinds[part.MediaKind] {
			continue
		}
		clone.Parts[i] = p.extractPart(ctx, part)
	}
	return &clone
}

func hasExtractablePart(m *models.Message) bool {
	for _, part := range m.Parts {
		if part.Type == models.PartTypeFile && extractableKinds[part.MediaKind] {
			return true
		}
	}
	return false
}

// extractPart converts a single file part. Extraction failure never fails
// the turn: the part becomes a placeholder naming the file so the model
// can acknowledge the attachment it cannot read.
func (p *Preprocessor) extractPart(ctx context.Context, part models.Part) models.Part {
	ext, err := p.extractor.Extract(ctx, part.MediaURL)
	if err != nil {
		log.Printf("preprocess: extract %q failed: %v", part.Filename, err)
		return models.TextPart(fmt.Sprintf(
			"[Attachment %q could not be read; continuing without its contents.]", part.Filename))
	}
	return models.TextPart(renderExtraction(part.Filename, ext))
}

func renderExtraction(filename string, ext *Extraction) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[Attachment %q", filename)
	if ext.Title != "" {
		fmt.Fprintf(&b, ", title %q", ext.Title)
	}
	if ext.Author != "" {
		fmt.Fprintf(&b, ", author %q", ext.Author)
	}
	if ext.PageCount > 1 {
		fmt.Fprintf(&b, ", %d pages", ext.PageCount)
	}
	b.WriteString("]\n")
	b.WriteString(ext.Text)
	return b.String()
}
