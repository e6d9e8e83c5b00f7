package tokenizer

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dlclark/regexp2"
	"github.com/goccy/go-json"
)

const (
	// byteLevelPattern is the split used by the ByteLevel pre-tokenizer when
	// use_regex is set.
	byteLevelPattern = `'s|'t|'re|'ve|'m|'ll|'d| ?\p{L}+| ?\p{N}+| ?[^\s\p{L}\p{N}]+|\s+(?!\S)|\s+`
	digitPattern     = `\p{N}`
	digitsPattern    = `\p{N}+`

	defaultCacheLimit = 1 << 16
)

// BPE is a byte-level BPE tokenizer loaded from a Hugging Face
// tokenizer.json. It is safe for concurrent use.
type BPE struct {
	encoder      map[string]int
	decoder      []string
	bpeRanks     map[Pair]int
	byteEncoder  map[byte]string
	byteDecoder  map[string]byte
	pretok       []*regexp2.Regexp
	addBOS       bool
	addEOS       bool
	bosID        int
	eosID        int
	unkID        int
	ignoreMerges bool
	special      []string
	specialSet   map[string]struct{}
	specials     SpecialTokens

	mu         sync.Mutex
	cache      map[string][]string
	cacheLimit int
}

// LoadDir loads tokenizer.json and, when present, tokenizer_config.json
// from a model directory.
func LoadDir(dir string) (*BPE, error) {
	cfg := filepath.Join(dir, "tokenizer_config.json")
	if _, err := os.Stat(cfg); err != nil {
		cfg = ""
	}
	return Load(filepath.Join(dir, "tokenizer.json"), cfg)
}

// Load reads a tokenizer.json and an optional tokenizer_config.json.
func Load(tokJSON, tokConfig string) (*BPE, error) {
	data, err := os.ReadFile(tokJSON)
	if err != nil {
		return nil, err
	}
	var cfg []byte
	if tokConfig != "" {
		if cfg, err = os.ReadFile(tokConfig); err != nil {
			return nil, err
		}
	}
	return LoadBytes(data, cfg)
}

// LoadBytes builds a tokenizer from in-memory tokenizer.json and
// tokenizer_config.json contents. tokConfig may be nil.
func LoadBytes(tokJSON, tokConfig []byte) (*BPE, error) {
	var tj hfTokenizerJSON
	if err := json.Unmarshal(tokJSON, &tj); err != nil {
		return nil, fmt.Errorf("parse tokenizer.json: %w", err)
	}
	if strings.ToUpper(tj.Model.Type) != "BPE" {
		return nil, fmt.Errorf("unsupported tokenizer model: %q", tj.Model.Type)
	}
	var cfg hfTokenizerConfig
	if len(tokConfig) > 0 {
		if err := json.Unmarshal(tokConfig, &cfg); err != nil {
			return nil, fmt.Errorf("parse tokenizer_config.json: %w", err)
		}
	}

	encoder := make(map[string]int, len(tj.Model.Vocab)+len(tj.AddedTokens))
	maxID := -1
	for tok, id := range tj.Model.Vocab {
		encoder[tok] = id
		maxID = max(maxID, id)
	}
	var special []string
	for _, at := range tj.AddedTokens {
		encoder[at.Content] = at.ID
		maxID = max(maxID, at.ID)
		if at.Special {
			special = append(special, at.Content)
		}
	}
	decoder := make([]string, maxID+1)
	for tok, id := range encoder {
		if id >= 0 {
			decoder[id] = tok
		}
	}

	lookup := func(s string) int {
		if id, ok := encoder[s]; ok && s != "" {
			return id
		}
		return -1
	}

	specials := cfg.specials()
	eosID := lookup(specials.EOS)
	if eosID < 0 {
		// GPT-2 and StarCoder families ship no tokenizer_config eos entry.
		if id := lookup("<|endoftext|>"); id >= 0 {
			eosID = id
			specials.EOS = "<|endoftext|>"
		}
	}
	unk := tj.Model.UnkToken
	if unk == "" {
		unk = specials.UNK
	}

	pretok, err := compilePreTokenizer(tj.PreTokenizer)
	if err != nil {
		return nil, err
	}

	byteEncoder, byteDecoder := bytesToUnicode()
	special = sortSpecials(special)
	specialSet := make(map[string]struct{}, len(special))
	for _, s := range special {
		specialSet[s] = struct{}{}
	}

	return &BPE{
		encoder:      encoder,
		decoder:      decoder,
		bpeRanks:     parseMerges(tj.Model.Merges),
		byteEncoder:  byteEncoder,
		byteDecoder:  byteDecoder,
		pretok:       pretok,
		addBOS:       cfg.AddBOS,
		addEOS:       cfg.AddEOS,
		bosID:        lookup(specials.BOS),
		eosID:        eosID,
		unkID:        lookup(unk),
		ignoreMerges: tj.Model.IgnoreMerges,
		special:      special,
		specialSet:   specialSet,
		specials:     specials,
		cache:        make(map[string][]string),
		cacheLimit:   defaultCacheLimit,
	}, nil
}

func (t *BPE) Encode(text string) ([]int, error) {
	var ids []int
	if t.addBOS && t.bosID >= 0 {
		ids = append(ids, t.bosID)
	}
	for _, part := range splitSpecials(text, t.special) {
		if part.isSpecial {
			ids = append(ids, t.encoder[part.text])
			continue
		}
		pieces, err := t.split(part.text)
		if err != nil {
			return nil, err
		}
		for _, piece := range pieces {
			for _, bpeTok := range t.bpe(t.byteEncode(piece)) {
				id, ok := t.encoder[bpeTok]
				if !ok {
					if t.unkID >= 0 {
						ids = append(ids, t.unkID)
						continue
					}
					return nil, fmt.Errorf("unknown token: %q", bpeTok)
				}
				ids = append(ids, id)
			}
		}
	}
	if t.addEOS && t.eosID >= 0 {
		ids = append(ids, t.eosID)
	}
	return ids, nil
}

func (t *BPE) EncodeBatch(texts []string) ([][]int, error) {
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

func (t *BPE) Decode(ids []int) (string, error) {
	var b []byte
	for _, id := range ids {
		if id < 0 || id >= len(t.decoder) {
			return "", fmt.Errorf("token id out of range: %d", id)
		}
		token := t.decoder[id]
		if _, ok := t.specialSet[token]; ok {
			b = append(b, token...)
			continue
		}
		for _, r := range token {
			if by, ok := t.byteDecoder[string(r)]; ok {
				b = append(b, by)
			} else {
				b = append(b, string(r)...)
			}
		}
	}
	return string(b), nil
}

func (t *BPE) BOSID() int                   { return t.bosID }
func (t *BPE) EOSID() int                   { return t.eosID }
func (t *BPE) VocabSize() int               { return len(t.decoder) }
func (t *BPE) SpecialTokens() SpecialTokens { return t.specials }

func (t *BPE) TokenID(surface string) (int, bool) {
	id, ok := t.encoder[surface]
	return id, ok
}

func (t *BPE) TokenString(id int) string {
	if id < 0 || id >= len(t.decoder) {
		return ""
	}
	return t.decoder[id]
}

func (t *BPE) byteEncode(s string) string {
	var b strings.Builder
	for _, by := range []byte(s) {
		b.WriteString(t.byteEncoder[by])
	}
	return b.String()
}

func (t *BPE) bpe(token string) []string {
	t.mu.Lock()
	v, ok := t.cache[token]
	t.mu.Unlock()
	if ok {
		return v
	}

	word := t.merge(token)

	t.mu.Lock()
	if len(t.cache) >= t.cacheLimit {
		clear(t.cache)
	}
	t.cache[token] = word
	t.mu.Unlock()
	return word
}

func (t *BPE) merge(token string) []string {
	if t.ignoreMerges {
		if _, ok := t.encoder[token]; ok {
			return []string{token}
		}
	}
	word := splitRunes(token)
	for len(word) > 1 {
		bestRank := int(^uint(0) >> 1)
		bestPair := Pair{}
		found := false
		for p := range getPairs(word) {
			if rank, ok := t.bpeRanks[p]; ok && rank < bestRank {
				bestRank = rank
				bestPair = p
				found = true
			}
		}
		if !found {
			break
		}
		word = mergePair(word, bestPair)
	}
	return word
}

// split runs text through each pre-tokenizer in turn. Every match and
// every gap between matches becomes its own piece.
func (t *BPE) split(text string) ([]string, error) {
	parts := []string{text}
	for _, re := range t.pretok {
		var next []string
		for _, part := range parts {
			r := []rune(part)
			offset := 0
			m, err := re.FindRunesMatch(r)
			for ; m != nil && err == nil; m, err = re.FindNextMatch(m) {
				if m.Index > offset {
					next = append(next, string(r[offset:m.Index]))
				}
				next = append(next, m.String())
				offset = m.Index + m.Length
			}
			if err != nil {
				return nil, fmt.Errorf("pre-tokenize: %w", err)
			}
			if offset < len(r) {
				next = append(next, string(r[offset:]))
			}
		}
		parts = next
	}
	return parts, nil
}

// compilePreTokenizer turns a tokenizer.json pre_tokenizer into the list of
// split patterns applied in order. An absent pre_tokenizer gets the
// ByteLevel split.
func compilePreTokenizer(pre hfPreTokenizer) ([]*regexp2.Regexp, error) {
	var patterns []string
	var walk func(p hfPreTokenizer)
	walk = func(p hfPreTokenizer) {
		switch p.Type {
		case "Sequence":
			for _, child := range p.Pretokenizers {
				walk(child)
			}
		case "Split":
			if p.Pattern.Regex != "" {
				patterns = append(patterns, p.Pattern.Regex)
			}
		case "Digits":
			if p.IndividualDigits {
				patterns = append(patterns, digitPattern)
			} else {
				patterns = append(patterns, digitsPattern)
			}
		case "ByteLevel":
			if p.UseRegex == nil || *p.UseRegex {
				patterns = append(patterns, byteLevelPattern)
			}
		}
	}
	walk(pre)
	if pre.Type == "" {
		patterns = []string{byteLevelPattern}
	}

	out := make([]*regexp2.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp2.Compile(p, regexp2.Unicode|regexp2.RE2)
		if err != nil {
			return nil, fmt.Errorf("compile pre-tokenizer %q: %w", p, err)
		}
		out = append(out, re)
	}
	return out, nil
}
