package ollama

import "photosort/internal/taxonomy"

const systemPrompt = "You are a strict JSON generator. Return ONLY a JSON object, no markdown, no prose, no code fences. " +
	"IMPORTANT: For tags_ko, caption_ko, text_in_image_ko you MUST output Korean only (Hangul). " +
	"Do NOT use Chinese characters(Hanja), Japanese, or English. " +
	"If any non-Korean text appears in the image, translate it to Korean; " +
	"if you cannot translate reliably, output an empty string for text_in_image_ko."

const userPrompt = "Analyze the image and output JSON with EXACT keys: " +
	`{"category": "screenshot_document|people|food_cafe|nature_landscape|city_street_travel|pets_animals|products_objects|other", ` +
	`"scores": {"screenshot_document": number, "people": number, "food_cafe": number, "nature_landscape": number, ` +
	`"city_street_travel": number, "pets_animals": number, "products_objects": number, "other": number}, ` +
	`"tags_ko": string[], "caption_ko": string, "text_in_image_ko": string}. ` +
	"tags_ko and caption_ko MUST be Korean(Hangul) only. scores must be between 0 and 1 and sum to 1."

// outputSchema is the structured-output JSON schema sent as "format".
var outputSchema = buildSchema()

func buildSchema() map[string]interface{} {
	keys := taxonomy.Categories()
	enum := make([]string, len(keys))
	scoreProps := make(map[string]interface{}, len(keys))
	for i, k := range keys {
		enum[i] = string(k)
		scoreProps[string(k)] = map[string]interface{}{"type": "number", "minimum": 0, "maximum": 1}
	}

	return map[string]interface{}{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]interface{}{
			"category": map[string]interface{}{"type": "string", "enum": enum},
			"scores": map[string]interface{}{
				"type":                 "object",
				"additionalProperties": false,
				"properties":           scoreProps,
				"required":             enum,
			},
			"tags_ko": map[string]interface{}{
				"type":     "array",
				"minItems": 0,
				"maxItems": 12,
				"items":    map[string]interface{}{"type": "string"},
			},
			"caption_ko":       map[string]interface{}{"type": "string"},
			"text_in_image_ko": map[string]interface{}{"type": "string"},
		},
		"required": []string{"category", "scores", "tags_ko", "caption_ko", "text_in_image_ko"},
	}
}

type chatMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

type chatRequest struct {
	Model    string                 `json:"model"`
	Stream   bool                   `json:"stream"`
	Options  map[string]interface{} `json:"options"`
	Messages []chatMessage          `json:"messages"`
	Think    *bool                  `json:"think,omitempty"`
	Format   interface{}            `json:"format,omitempty"`
}

// newChatRequest builds the request body. The think field is only sent to
// disable thinking, and only when withThinkField is set.
func newChatRequest(model, b64 string, stream, think, withThinkField bool) chatRequest {
	req := chatRequest{
		Model:   model,
		Stream:  stream,
		Options: map[string]interface{}{"temperature": 0},
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt, Images: []string{b64}},
		},
	}
	if !think && withThinkField {
		f := false
		req.Think = &f
	}
	return req
}

type chatResponse struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Done bool `json:"done"`
}
