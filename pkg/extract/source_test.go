package extract

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Raos0nu/policy-extract/pkg/dispatch"
)

func writeDoc(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "doc.txt")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write doc: %v", err)
	}
	return path
}

func TestFileSource_Text(t *testing.T) {
	content := "Policy Number: R-12345\nInsured Name: A Sharma\nVehicle: MH-12-AB-1234"
	path := writeDoc(t, content)

	got, err := FileSource{}.Text(context.Background(), path)
	if err != nil {
		t.Fatalf("Text() error = %v", err)
	}
	if got != content {
		t.Errorf("Text() = %q, want file content", got)
	}
}

func TestFileSource_Text_Missing(t *testing.T) {
	_, err := FileSource{}.Text(context.Background(), "/does/not/exist.txt")
	if !errors.Is(err, ErrUnreadable) {
		t.Errorf("Text() error = %v, want ErrUnreadable", err)
	}
}

func TestPromptBuilder_Prompt(t *testing.T) {
	content := strings.Repeat("Policy document text with enough characters. ", 3)
	path := writeDoc(t, content)

	b := PromptBuilder{Source: FileSource{}, Insurer: InsurerReliance}
	prompt, err := b.Prompt(context.Background(), path)
	if err != nil {
		t.Fatalf("Prompt() error = %v", err)
	}
	if !strings.Contains(prompt, content) {
		t.Error("prompt missing document text")
	}
	if !strings.Contains(prompt, "RELIANCE GENERAL INSURANCE") {
		t.Error("prompt missing insurer rules")
	}
}

func TestPromptBuilder_Prompt_Failures(t *testing.T) {
	b := PromptBuilder{Source: FileSource{}, Insurer: InsurerShriram}

	t.Run("missing file", func(t *testing.T) {
		_, err := b.Prompt(context.Background(), "/does/not/exist.txt")
		assertPermanent(t, err)
	})
	t.Run("too short", func(t *testing.T) {
		_, err := b.Prompt(context.Background(), writeDoc(t, "tiny"))
		assertPermanent(t, err)
		if !errors.Is(err, ErrUnreadable) {
			t.Errorf("Prompt() error = %v, want wrapped ErrUnreadable", err)
		}
	})
	t.Run("whitespace only", func(t *testing.T) {
		_, err := b.Prompt(context.Background(), writeDoc(t, strings.Repeat(" \n\t", 40)))
		assertPermanent(t, err)
	})
}

func assertPermanent(t *testing.T, err error) {
	t.Helper()
	var ce *dispatch.ClassifiedError
	if !errors.As(err, &ce) || ce.Class != dispatch.ErrorClassPermanent {
		t.Fatalf("error = %v, want permanent ClassifiedError", err)
	}
}
