package ollama

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"photosort/internal/taxonomy"
)

// Analysis is the parsed model answer.
type Analysis struct {
	Category    taxonomy.CategoryKey
	Scores      taxonomy.Scores
	Tags        []string
	Caption     string
	TextInImage string
	Log         string
}

// stripCodeFences removes a surrounding ```json / ```JSON / ``` fence.
func stripCodeFences(s string) string {
	t := strings.TrimSpace(s)
	for _, p := range []string{"```json", "```JSON", "```"} {
		if strings.HasPrefix(t, p) {
			t = t[len(p):]
			break
		}
	}
	t = strings.TrimSuffix(t, "```")
	return strings.TrimSpace(t)
}

// firstJSONObject returns the first balanced {...} span, if any.
func firstJSONObject(s string) (string, bool) {
	start, depth := -1, 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '{':
			if start < 0 {
				start = i
			}
			depth++
		case '}':
			if start >= 0 {
				depth--
				if depth == 0 {
					return s[start : i+1], true
				}
			}
		}
	}
	return "", false
}

// ParseOutput decodes model content into an Analysis.
func ParseOutput(content string) (*Analysis, error) {
	stripped := stripCodeFences(content)
	candidate := stripped
	if obj, ok := firstJSONObject(stripped); ok {
		candidate = obj
	}

	var parsed map[string]interface{}
	if err := json.Unmarshal([]byte(candidate), &parsed); err != nil {
		head := []rune(stripped)
		if len(head) > 220 {
			head = head[:220]
		}
		return nil, fmt.Errorf("parse model json: %v | head: %s", err, string(head))
	}

	categoryRaw, hasCategory := parsed["category"].(string)
	var scores taxonomy.Scores
	if obj, ok := parsed["scores"].(map[string]interface{}); ok {
		m := make(map[string]float64, len(obj))
		for k, v := range obj {
			if f, ok := v.(float64); ok {
				m[k] = f
			}
		}
		scores = taxonomy.ScoresFromMap(m)
	} else if hasCategory {
		scores = taxonomy.OneHot(taxonomy.ParseCategory(categoryRaw))
	} else {
		return nil, errors.New("scores missing")
	}

	out := &Analysis{Scores: scores}
	if hasCategory {
		out.Category = taxonomy.ParseCategory(categoryRaw)
	} else {
		out.Category, _ = scores.Top()
	}

	if arr, ok := parsed["tags_ko"].([]interface{}); ok {
		for _, v := range arr {
			if s, ok := v.(string); ok {
				if t := SanitizeKorean(s); t != "" {
					out.Tags = append(out.Tags, t)
				}
			}
		}
	}
	if len(out.Tags) == 0 {
		out.Tags = []string{"기타"}
	}

	caption, _ := parsed["caption_ko"].(string)
	out.Caption = SanitizeKorean(caption)
	if out.Caption == "" {
		out.Caption = "설명 없음"
	}

	text, _ := parsed["text_in_image_ko"].(string)
	out.TextInImage = SanitizeKorean(text)
	return out, nil
}

const logContentLimit = 20000

func truncateRunes(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "\n…(truncated)…"
}
