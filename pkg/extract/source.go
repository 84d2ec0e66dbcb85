// Package extract holds the thin boundary to the excluded collaborators:
// document text sources, the insurer-specific extraction prompt, the
// Gemini inference client, and the payload validation/cleaning pass.
package extract

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/Raos0nu/policy-extract/pkg/dispatch"
)

// ErrUnreadable indicates the source document could not be read or yields
// no usable text. Never retried.
var ErrUnreadable = errors.New("source document unreadable")

// minTextLength is the shortest document text worth sending to the model.
const minTextLength = 50

// TextSource yields the text blob for a document handle. Extraction of
// text from the raw document format happens behind this interface.
type TextSource interface {
	Text(ctx context.Context, sourceRef string) (string, error)
}

// FileSource reads pre-extracted document text from plain files.
type FileSource struct{}

// Text implements TextSource by reading sourceRef as a file path.
func (FileSource) Text(_ context.Context, sourceRef string) (string, error) {
	data, err := os.ReadFile(sourceRef)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	return string(data), nil
}

// PromptBuilder derives the extraction prompt for a work item. It
// implements dispatch.PromptSource; unreadable or too-short documents
// yield a permanent classified error so the dispatcher never retries them.
type PromptBuilder struct {
	Source  TextSource
	Insurer Insurer
}

// Prompt reads the document text and renders the extraction prompt.
func (b PromptBuilder) Prompt(ctx context.Context, sourceRef string) (string, error) {
	text, err := b.Source.Text(ctx, sourceRef)
	if err != nil {
		return "", dispatch.NewClassifiedError(dispatch.ErrorClassPermanent, 0, "read source document", err)
	}
	if len(strings.TrimSpace(text)) < minTextLength {
		return "", dispatch.NewClassifiedError(dispatch.ErrorClassPermanent, 0,
			fmt.Sprintf("document text too short (%d chars)", len(strings.TrimSpace(text))),
			ErrUnreadable)
	}
	return BuildPrompt(text, b.Insurer), nil
}
