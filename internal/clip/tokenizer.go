package clip

import (
	"fmt"

	"github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/pretrained"
)

// ContextLength is the fixed text sequence length of the model.
const ContextLength = 77

// PadToken is used for padding and must exist in the vocabulary.
const PadToken = "<|endoftext|>"

// Tokenizer turns prompts into token ids.
type Tokenizer interface {
	Encode(text string) (ids, mask []int64, err error)
	TokenID(token string) (int64, bool)
}

// HFTokenizer reads a HuggingFace tokenizer.json.
type HFTokenizer struct {
	tk *tokenizer.Tokenizer
}

// LoadTokenizer loads tokenizer.json from path.
func LoadTokenizer(path string) (Tokenizer, error) {
	tk, err := pretrained.FromFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load tokenizer %s: %w", path, err)
	}
	return &HFTokenizer{tk: tk}, nil
}

// Encode tokenizes text with special tokens.
func (t *HFTokenizer) Encode(text string) ([]int64, []int64, error) {
	en, err := t.tk.EncodeSingle(text, true)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode %q: %w", text, err)
	}
	ids := make([]int64, len(en.Ids))
	for i, id := range en.Ids {
		ids[i] = int64(id)
	}
	mask := make([]int64, len(en.AttentionMask))
	for i, m := range en.AttentionMask {
		mask[i] = int64(m)
	}
	return ids, mask, nil
}

// TokenID looks up a vocabulary entry.
func (t *HFTokenizer) TokenID(token string) (int64, bool) {
	id, ok := t.tk.TokenToId(token)
	return int64(id), ok
}

// encodeFixed encodes text to exactly ContextLength tokens: long sequences
// are truncated, short ones padded with padID and mask 0.
func encodeFixed(tok Tokenizer, text string, padID int64) ([]int64, []int64, error) {
	ids, mask, err := tok.Encode(text)
	if err != nil {
		return nil, nil, err
	}
	if len(ids) > ContextLength {
		ids = ids[:ContextLength]
	}
	if len(mask) > ContextLength {
		mask = mask[:ContextLength]
	}
	outIDs := make([]int64, ContextLength)
	outMask := make([]int64, ContextLength)
	for i := range outIDs {
		outIDs[i] = padID
	}
	copy(outIDs, ids)
	copy(outMask, mask)
	return outIDs, outMask, nil
}

// encodeBatch encodes prompts into flattened [n, ContextLength] matrices.
func encodeBatch(tok Tokenizer, prompts []string, padID int64) ([]int64, []int64, error) {
	ids := make([]int64, 0, len(prompts)*ContextLength)
	mask := make([]int64, 0, len(prompts)*ContextLength)
	for _, p := range prompts {
		i, m, err := encodeFixed(tok, p, padID)
		if err != nil {
			return nil, nil, err
		}
		ids = append(ids, i...)
		mask = append(mask, m...)
	}
	return ids, mask, nil
}
