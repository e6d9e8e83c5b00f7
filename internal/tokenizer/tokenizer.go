package tokenizer

import "fmt"

// Tokenizer is the minimal encode/decode contract.
type Tokenizer interface {
	Encode(text string) ([]int, error)
	Decode(ids []int) (string, error)
}

// Vocabulary exposes the lookups the packing pipeline needs on top of
// encoding: the end-of-document id, special-token surface strings, and
// surface-to-id resolution.
type Vocabulary interface {
	EOSID() int
	SpecialTokens() SpecialTokens
	TokenID(surface string) (int, bool)
}

// BatchEncoder is implemented by tokenizers with a native batch path.
type BatchEncoder interface {
	EncodeBatch(texts []string) ([][]int, error)
}

// EncodeBatch tokenizes texts in order. It uses the tokenizer's own batch
// path when it has one.
func EncodeBatch(t Tokenizer, texts []string) ([][]int, error) {
	if be, ok := t.(BatchEncoder); ok {
		return be.EncodeBatch(texts)
	}
	out := make([][]int, len(texts))
	for i, text := range texts {
		ids, err := t.Encode(text)
		if err != nil {
			return nil, fmt.Errorf("encode text %d: %w", i, err)
		}
		out[i] = ids
	}
	return out, nil
}

// SpecialTokens mirrors the special_tokens_map of a tokenizer_config.json.
type SpecialTokens struct {
	BOS        string
	EOS        string
	PAD        string
	UNK        string
	Additional []string
}

// Named looks up a special token by its tokenizer_config key
// (bos_token, eos_token, pad_token, unk_token).
func (s SpecialTokens) Named(name string) (string, bool) {
	var v string
	switch name {
	case "bos_token":
		v = s.BOS
	case "eos_token":
		v = s.EOS
	case "pad_token":
		v = s.PAD
	case "unk_token":
		v = s.UNK
	}
	return v, v != ""
}
