package ollama

import (
	"testing"

	"photosort/internal/taxonomy"
)

func TestParseOutput(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		category taxonomy.CategoryKey
		tags     []string
		caption  string
		wantErr  bool
	}{
		{
			name:     "plain",
			content:  `{"category":"people","scores":{"people":0.9,"other":0.1},"tags_ko":["인물"],"caption_ko":"웃는 사람"}`,
			category: taxonomy.People,
			tags:     []string{"인물"},
			caption:  "웃는 사람",
		},
		{
			name:     "fenced with prose",
			content:  "```json\nHere you go: {\"scores\":{\"pets_animals\":0.7,\"other\":0.3}} thanks\n```",
			category: taxonomy.PetsAnimals,
			tags:     []string{"기타"},
			caption:  "설명 없음",
		},
		{
			name:     "category without scores is one-hot",
			content:  `{"category":"nature_landscape"}`,
			category: taxonomy.NatureLandscape,
			tags:     []string{"기타"},
			caption:  "설명 없음",
		},
		{
			name:     "unknown category maps to other",
			content:  `{"category":"spaceship","scores":{"people":1}}`,
			category: taxonomy.Other,
			tags:     []string{"기타"},
			caption:  "설명 없음",
		},
		{
			name:     "foreign script is stripped",
			content:  `{"category":"food_cafe","scores":{"food_cafe":1},"tags_ko":["ラーメン","라면 noodle"],"caption_ko":"拉面"}`,
			category: taxonomy.FoodCafe,
			tags:     []string{"라면"},
			caption:  "설명 없음",
		},
		{name: "no scores no category", content: `{"tags_ko":["x"]}`, wantErr: true},
		{name: "not json", content: "I cannot help with that", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := ParseOutput(tt.content)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", out)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseOutput: %v", err)
			}
			if out.Category != tt.category {
				t.Errorf("category = %s, want %s", out.Category, tt.category)
			}
			if len(out.Tags) != len(tt.tags) {
				t.Fatalf("tags = %v, want %v", out.Tags, tt.tags)
			}
			for i := range tt.tags {
				if out.Tags[i] != tt.tags[i] {
					t.Errorf("tags[%d] = %q, want %q", i, out.Tags[i], tt.tags[i])
				}
			}
			if out.Caption != tt.caption {
				t.Errorf("caption = %q, want %q", out.Caption, tt.caption)
			}
		})
	}
}

func TestParseOutputScoresMissingMessage(t *testing.T) {
	_, err := ParseOutput(`{"caption_ko":"사진"}`)
	if err == nil || err.Error() != "scores missing" {
		t.Fatalf("expected scores missing, got %v", err)
	}
}

func TestSanitizeKorean(t *testing.T) {
	tests := map[string]string{
		"  서울 야경 ":       "서울 야경",
		"Seoul 서울":       "서울",
		"東京 도쿄 2024!":    "도쿄 2024!",
		"hello":          "",
		"커피(아메리카노), 빵": "커피(아메리카노), 빵",
	}
	for in, want := range tests {
		if got := SanitizeKorean(in); got != want {
			t.Errorf("SanitizeKorean(%q) = %q, want %q", in, got, want)
		}
	}
}
