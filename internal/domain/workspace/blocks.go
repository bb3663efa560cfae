package workspace

import (
	"encoding/json"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

// MaxSearchTextRunes bounds the search projection of a node.
const MaxSearchTextRunes = 8000

// ParagraphBlock builds a single paragraph block holding plain text.
func ParagraphBlock(text string) map[string]any {
	return map[string]any{
		"id":   uuid.NewString(),
		"type": "paragraph",
		"props": map[string]any{
			"textColor":       "default",
			"backgroundColor": "default",
			"textAlignment":   "left",
		},
		"content": []any{
			map[string]any{"type": "text", "text": text, "styles": map[string]any{}},
		},
		"children": []any{},
	}
}

// SearchText flattens title and every "text" leaf of the block tree into one
// whitespace-separated string of at most MaxSearchTextRunes runes. Content
// that is not valid JSON contributes nothing.
func SearchText(title string, content []byte) string {
	parts := []string{}
	if t := strings.TrimSpace(title); t != "" {
		parts = append(parts, t)
	}
	if len(content) > 0 {
		var tree any
		if err := json.Unmarshal(content, &tree); err == nil {
			collectText(tree, &parts)
		}
	}
	return truncateRunes(strings.Join(parts, " "), MaxSearchTextRunes)
}

func collectText(v any, out *[]string) {
	switch x := v.(type) {
	case []any:
		for _, item := range x {
			collectText(item, out)
		}
	case map[string]any:
		if s, ok := x["text"].(string); ok {
			if s = strings.TrimSpace(s); s != "" {
				*out = append(*out, s)
			}
		}
		for _, key := range []string{"content", "children"} {
			if child, ok := x[key]; ok {
				collectText(child, out)
			}
		}
	}
}

func truncateRunes(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max])
}
