package workspace

import (
	"encoding/json"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSearchTextCollectsNestedText(t *testing.T) {
	content := []any{
		ParagraphBlock("first line"),
		map[string]any{
			"type":    "bulletListItem",
			"content": []any{map[string]any{"type": "text", "text": "bullet"}},
			"children": []any{
				ParagraphBlock("nested"),
			},
		},
	}
	raw, err := json.Marshal(content)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	got := SearchText("Plan", raw)
	want := "Plan first line bullet nested"
	if got != want {
		t.Fatalf("SearchText: want=%q got=%q", want, got)
	}
}

func TestSearchTextBounded(t *testing.T) {
	long := strings.Repeat("é", MaxSearchTextRunes+50)
	raw, _ := json.Marshal([]any{ParagraphBlock(long)})
	got := SearchText("", raw)
	if n := utf8.RuneCountInString(got); n != MaxSearchTextRunes {
		t.Fatalf("rune count: want=%d got=%d", MaxSearchTextRunes, n)
	}
}

func TestSearchTextIgnoresInvalidContent(t *testing.T) {
	if got := SearchText("Only title", []byte("{not json")); got != "Only title" {
		t.Fatalf("SearchText: got=%q", got)
	}
}
