package tokenizer

import (
	"bytes"
	"fmt"

	"github.com/goccy/go-json"
)

type hfTokenizerJSON struct {
	Model struct {
		Type         string         `json:"type"`
		Vocab        map[string]int `json:"vocab"`
		Merges       []any          `json:"merges"`
		IgnoreMerges bool           `json:"ignore_merges"`
		UnkToken     string         `json:"unk_token"`
	} `json:"model"`
	PreTokenizer hfPreTokenizer `json:"pre_tokenizer"`
	AddedTokens  []struct {
		ID      int    `json:"id"`
		Content string `json:"content"`
		Special bool   `json:"special"`
	} `json:"added_tokens"`
}

type hfPreTokenizer struct {
	Type    string `json:"type"`
	Pattern struct {
		Regex string `json:"Regex"`
	} `json:"pattern"`
	IndividualDigits bool             `json:"individual_digits"`
	UseRegex         *bool            `json:"use_regex"`
	Pretokenizers    []hfPreTokenizer `json:"pretokenizers"`
}

type hfTokenizerConfig struct {
	AddBOS     bool         `json:"add_bos_token"`
	AddEOS     bool         `json:"add_eos_token"`
	BOS        tokenValue   `json:"bos_token"`
	EOS        tokenValue   `json:"eos_token"`
	PAD        tokenValue   `json:"pad_token"`
	UNK        tokenValue   `json:"unk_token"`
	Additional []tokenValue `json:"additional_special_tokens"`
}

// tokenValue accepts both spellings found in tokenizer_config.json:
// a bare string, or an AddedToken object with a "content" field.
type tokenValue string

func (v *tokenValue) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*v = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*v = tokenValue(s)
		return nil
	}
	var obj struct {
		Content string `json:"content"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return fmt.Errorf("special token: %w", err)
	}
	*v = tokenValue(obj.Content)
	return nil
}

func (c hfTokenizerConfig) specials() SpecialTokens {
	st := SpecialTokens{
		BOS: string(c.BOS),
		EOS: string(c.EOS),
		PAD: string(c.PAD),
		UNK: string(c.UNK),
	}
	for _, a := range c.Additional {
		st.Additional = append(st.Additional, string(a))
	}
	return st
}

func parseMerges(raw []any) map[Pair]int {
	ranks := make(map[Pair]int, len(raw))
	rank := 0
	for _, m := range raw {
		var p Pair
		switch v := m.(type) {
		case string:
			var ok bool
			if p, ok = splitMerge(v); !ok {
				continue
			}
		case []any:
			if len(v) != 2 {
				continue
			}
			a, aok := v[0].(string)
			b, bok := v[1].(string)
			if !aok || !bok {
				continue
			}
			p = Pair{A: a, B: b}
		default:
			continue
		}
		if _, ok := ranks[p]; !ok {
			ranks[p] = rank
			rank++
		}
	}
	return ranks
}
