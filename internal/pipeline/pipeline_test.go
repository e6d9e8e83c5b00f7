package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"slices"
	"strings"
	"testing"

	"github.com/samcharles93/codepack/internal/dataset"
	"github.com/samcharles93/codepack/internal/logger"
	"github.com/samcharles93/codepack/internal/tokenizer"
)

const (
	eosID    = 0
	prefixID = 1
	middleID = 2
	suffixID = 3
	padID    = 4
)

// runeTokenizer maps every rune to its code point. Ids below 32 are
// reserved for special tokens.
type runeTokenizer struct {
	fim bool
}

func (runeTokenizer) Encode(text string) ([]int, error) {
	ids := make([]int, 0, len(text))
	for _, r := range text {
		ids = append(ids, int(r))
	}
	return ids, nil
}

func (runeTokenizer) Decode(ids []int) (string, error) {
	var b strings.Builder
	for _, id := range ids {
		b.WriteRune(rune(id))
	}
	return b.String(), nil
}

func (runeTokenizer) EOSID() int { return eosID }

func (runeTokenizer) SpecialTokens() tokenizer.SpecialTokens {
	return tokenizer.SpecialTokens{EOS: "<|endoftext|>"}
}

func (t runeTokenizer) TokenID(s string) (int, bool) {
	if !t.fim {
		return 0, false
	}
	id, ok := map[string]int{
		"<fim_prefix>": prefixID, "<fim_middle>": middleID, "<fim_suffix>": suffixID, "<fim_pad>": padID,
	}[s]
	return id, ok
}

// tableTokenizer returns fixed ids per text.
type tableTokenizer struct {
	ids map[string][]int
	eos int
}

func (t tableTokenizer) Encode(text string) ([]int, error) {
	ids, ok := t.ids[text]
	if !ok {
		return nil, fmt.Errorf("unknown text %q", text)
	}
	return ids, nil
}

func (tableTokenizer) Decode([]int) (string, error)           { return "", nil }
func (t tableTokenizer) EOSID() int                           { return t.eos }
func (tableTokenizer) SpecialTokens() tokenizer.SpecialTokens { return tokenizer.SpecialTokens{} }
func (tableTokenizer) TokenID(string) (int, bool)             { return 0, false }

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.SeqLength = 8
	cfg.NumOfSequences = 4
	cfg.CharsPerToken = 2
	cfg.Seed = 1
	return cfg
}

func corpus(n int) []string {
	rng := rand.New(rand.NewPCG(99, 99))
	out := make([]string, n)
	for i := range out {
		var b strings.Builder
		for range rng.IntN(30) {
			b.WriteRune(rune('a' + rng.IntN(26)))
		}
		out[i] = b.String()
	}
	return out
}

func newPipeline(t *testing.T, enc Encoder, src dataset.Source, cfg Config) *Pipeline {
	t.Helper()
	p, err := New(enc, src, cfg, logger.Discard())
	if err != nil {
		t.Fatalf("new pipeline: %v", err)
	}
	return p
}

func collect(t *testing.T, p *Pipeline, n int) []Example {
	t.Helper()
	out, err := Collect(context.Background(), p, n)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	return out
}

func TestPackedExample(t *testing.T) {
	t.Parallel()
	enc := tableTokenizer{ids: map[string][]int{"aaa": {1, 2, 3}, "bb": {4, 5}}, eos: 9}
	cfg := DefaultConfig()
	cfg.SeqLength = 4
	cfg.NumOfSequences = 1
	cfg.CharsPerToken = 10
	cfg.FIMRate = 0

	p := newPipeline(t, enc, dataset.FromTexts("content", "aaa", "bb"), cfg)
	got := collect(t, p, -1)
	if len(got) != 1 || !slices.Equal(got[0].InputIDs, []int{1, 2, 3, 9}) {
		t.Fatalf("got %v want one example [1 2 3 9]", got)
	}
	if st := p.Stats(); st.DroppedTokens != 3 || st.Examples != 1 || st.Buffers != 1 {
		t.Fatalf("unexpected stats %+v", st)
	}
}

func TestPackReconstructsStreamWithoutFIM(t *testing.T) {
	t.Parallel()
	texts := corpus(40)
	cfg := testConfig()
	cfg.FIMRate = 0
	p := newPipeline(t, runeTokenizer{fim: true}, dataset.FromTexts("content"), cfg)

	windows, err := p.pack(texts, rand.New(rand.NewPCG(1, 0)))
	if err != nil {
		t.Fatal(err)
	}
	var want []int
	for _, text := range texts {
		ids, _ := runeTokenizer{}.Encode(text)
		want = append(want, ids...)
		want = append(want, eosID)
	}
	want = want[:len(want)/cfg.SeqLength*cfg.SeqLength]
	if got := slices.Concat(windows...); !slices.Equal(got, want) {
		t.Fatalf("windows do not reconstruct the token stream:\ngot  %v\nwant %v", got, want)
	}
}

func TestExamplesShape(t *testing.T) {
	t.Parallel()
	for _, truncate := range []bool{false, true} {
		cfg := testConfig()
		cfg.FIMRate = 0.5
		cfg.TruncateOrPad = truncate
		p := newPipeline(t, runeTokenizer{fim: true}, dataset.FromTexts("content", corpus(200)...), cfg)

		examples := collect(t, p, -1)
		if len(examples) == 0 {
			t.Fatal("expected examples")
		}
		for i, ex := range examples {
			if len(ex.InputIDs) != cfg.SeqLength || len(ex.Labels) != cfg.SeqLength {
				t.Fatalf("truncate=%v example %d: lengths %d/%d want %d", truncate, i, len(ex.InputIDs), len(ex.Labels), cfg.SeqLength)
			}
			if !slices.Equal(ex.InputIDs, ex.Labels) {
				t.Fatalf("truncate=%v example %d: labels differ from inputs", truncate, i)
			}
			if &ex.InputIDs[0] == &ex.Labels[0] {
				t.Fatalf("truncate=%v example %d: labels alias inputs", truncate, i)
			}
		}
		if st := p.Stats(); st.Examples != int64(len(examples)) {
			t.Fatalf("stats report %d examples, collected %d", st.Examples, len(examples))
		}
	}
}

func TestFIMRateOnePermutesEverySequence(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.FIMRate = 1
	p := newPipeline(t, runeTokenizer{fim: true}, dataset.FromTexts("content", corpus(300)...), cfg)
	collect(t, p, -1)

	st := p.Stats()
	if st.Documents != 300 || st.PSM+st.SPM != st.Documents {
		t.Fatalf("expected every document permuted, got %+v", st)
	}
	if st.PSM == 0 || st.SPM == 0 {
		t.Fatalf("expected both layouts at spm rate 0.5, got %+v", st)
	}
}

func TestFIMRateZeroNeverPermutes(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.FIMRate = 0
	p := newPipeline(t, runeTokenizer{fim: true}, dataset.FromTexts("content", corpus(1500)...), cfg)

	for _, ex := range collect(t, p, -1) {
		for _, id := range ex.InputIDs {
			if id >= prefixID && id <= padID {
				t.Fatalf("found FIM token %d in %v", id, ex.InputIDs)
			}
		}
	}
	if st := p.Stats(); st.Documents != 1500 || st.PSM+st.SPM+st.Abandoned != 0 {
		t.Fatalf("expected no permutations, got %+v", st)
	}
}

func TestUnsupportedTokenizerDisablesFIM(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	cfg := testConfig()
	cfg.FIMRate = 1
	p, err := New(runeTokenizer{}, dataset.FromTexts("content", corpus(50)...), cfg, logger.Text(&buf, slog.LevelInfo))
	if err != nil {
		t.Fatal(err)
	}
	if p.FIMEnabled() || p.Config().FIMRate != 0 {
		t.Fatalf("expected FIM disabled, rate %g", p.Config().FIMRate)
	}
	if !strings.Contains(buf.String(), "FIM is not supported by tokenizer, disabling FIM") {
		t.Fatalf("expected warning, got %q", buf.String())
	}
	collect(t, p, -1)
	if st := p.Stats(); st.PSM+st.SPM != 0 {
		t.Fatalf("expected no permutations, got %+v", st)
	}
}

func TestExamplesReproducible(t *testing.T) {
	t.Parallel()
	src := dataset.FromTexts("content", corpus(200)...)
	run := func(seed uint64) []Example {
		cfg := testConfig()
		cfg.Seed = seed
		return collect(t, newPipeline(t, runeTokenizer{fim: true}, src, cfg), -1)
	}

	a, b := run(5), run(5)
	if len(a) != len(b) {
		t.Fatalf("lengths differ: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if !slices.Equal(a[i].InputIDs, b[i].InputIDs) {
			t.Fatalf("example %d differs between identical runs", i)
		}
	}

	c := run(6)
	same := len(a) == len(c)
	for i := 0; same && i < len(a); i++ {
		same = slices.Equal(a[i].InputIDs, c[i].InputIDs)
	}
	if same {
		t.Fatal("expected a different stream for a different seed")
	}
}

func TestExamplesRestartOnEachIteration(t *testing.T) {
	t.Parallel()
	p := newPipeline(t, runeTokenizer{fim: true}, dataset.FromTexts("content", corpus(100)...), testConfig())
	first := collect(t, p, 10)
	second := collect(t, p, 10)
	for i := range first {
		if !slices.Equal(first[i].InputIDs, second[i].InputIDs) {
			t.Fatalf("example %d differs between iterations", i)
		}
	}
}

func TestInfiniteReopensSource(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.SeqLength = 4
	cfg.NumOfSequences = 2
	cfg.CharsPerToken = 1
	cfg.FIMRate = 0
	cfg.Infinite = true
	p := newPipeline(t, runeTokenizer{}, dataset.FromTexts("content", "abcdefgh", "ijklmnop", "qrstuvwx"), cfg)

	if got := collect(t, p, 50); len(got) != 50 {
		t.Fatalf("expected 50 examples, got %d", len(got))
	}
	if st := p.Stats(); st.Reopens == 0 {
		t.Fatalf("expected the source to be reopened, got %+v", st)
	}
}

func TestInfiniteEmptySource(t *testing.T) {
	t.Parallel()
	tests := map[string]*dataset.Memory{
		"no documents":    dataset.FromTexts("content"),
		"empty documents": dataset.FromTexts("content", "", ""),
	}
	for name, src := range tests {
		cfg := testConfig()
		cfg.Infinite = true
		_, err := Collect(context.Background(), newPipeline(t, runeTokenizer{}, src, cfg), 5)
		if !errors.Is(err, ErrEmptySource) {
			t.Errorf("%s: expected ErrEmptySource, got %v", name, err)
		}
	}
}

func TestFiniteEmptySource(t *testing.T) {
	t.Parallel()
	p := newPipeline(t, runeTokenizer{}, dataset.FromTexts("content"), testConfig())
	if got := collect(t, p, -1); len(got) != 0 {
		t.Fatalf("expected no examples, got %d", len(got))
	}
}

func TestMissingContentField(t *testing.T) {
	t.Parallel()
	src := dataset.NewMemory([]dataset.Document{{ID: "doc-7", Fields: map[string]string{"text": "x"}}})
	_, err := Collect(context.Background(), newPipeline(t, runeTokenizer{}, src, testConfig()), -1)
	if !errors.Is(err, ErrMissingField) || !strings.Contains(err.Error(), "doc-7") {
		t.Fatalf("expected ErrMissingField naming the document, got %v", err)
	}
}

func TestTokenizerErrorPropagates(t *testing.T) {
	t.Parallel()
	enc := tableTokenizer{ids: map[string][]int{}}
	_, err := Collect(context.Background(), newPipeline(t, enc, dataset.FromTexts("content", "??"), testConfig()), -1)
	if err == nil || !strings.Contains(err.Error(), "tokenize buffer") {
		t.Fatalf("expected tokenize error, got %v", err)
	}
}

func TestExamplesCancellation(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.Infinite = true
	p := newPipeline(t, runeTokenizer{fim: true}, dataset.FromTexts("content", corpus(20)...), cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var (
		n   int
		got error
	)
	for _, err := range p.Examples(ctx) {
		if err != nil {
			got = err
			break
		}
		n++
		if n == 3 {
			cancel()
		}
	}
	if !errors.Is(got, context.Canceled) || n != 3 {
		t.Fatalf("expected cancellation after 3 examples, got %d examples and %v", n, got)
	}
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(*Config) {}, true},
		{"zero seq length", func(c *Config) { c.SeqLength = 0 }, false},
		{"negative sequences", func(c *Config) { c.NumOfSequences = -1 }, false},
		{"zero chars per token", func(c *Config) { c.CharsPerToken = 0 }, false},
		{"empty field", func(c *Config) { c.ContentField = "" }, false},
		{"fim rate above one", func(c *Config) { c.FIMRate = 1.5 }, false},
		{"negative spm rate", func(c *Config) { c.FIMSPMRate = -0.1 }, false},
		{"rate bounds", func(c *Config) { c.FIMRate, c.FIMSPMRate = 0, 1 }, true},
	}
	for _, tc := range tests {
		cfg := DefaultConfig()
		tc.mutate(&cfg)
		err := cfg.Validate()
		if tc.ok != (err == nil) {
			t.Errorf("%s: got %v", tc.name, err)
		}
		if err != nil && !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("%s: expected ErrInvalidConfig, got %v", tc.name, err)
		}
	}
}

func TestNewRequiresEOS(t *testing.T) {
	t.Parallel()
	_, err := New(tableTokenizer{eos: -1}, dataset.FromTexts("content"), testConfig(), nil)
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestDefaultBufferChars(t *testing.T) {
	t.Parallel()
	if got, want := DefaultConfig().BufferChars(), 1024*3.6*1024; got != want {
		t.Fatalf("got %g want %g", got, want)
	}
}

func TestPipelineWithBPETokenizer(t *testing.T) {
	t.Parallel()
	tok, err := tokenizer.LoadBytes([]byte(`{
		"model": {"type": "BPE", "vocab": {"a": 0, "b": 1, "ab": 2, "Ġ": 3, "c": 4}, "merges": ["a b"]},
		"added_tokens": [
			{"id": 5, "content": "<|endoftext|>", "special": true},
			{"id": 6, "content": "<fim_prefix>", "special": true},
			{"id": 7, "content": "<fim_middle>", "special": true},
			{"id": 8, "content": "<fim_suffix>", "special": true},
			{"id": 9, "content": "<fim_pad>", "special": true}
		]
	}`), []byte(`{"additional_special_tokens": ["<|endoftext|>", "<fim_prefix>", "<fim_middle>", "<fim_suffix>", "<fim_pad>"]}`))
	if err != nil {
		t.Fatal(err)
	}

	cfg := testConfig()
	cfg.SeqLength = 4
	cfg.FIMRate = 0
	p := newPipeline(t, tok, dataset.FromTexts("content"), cfg)
	windows, err := p.pack([]string{"ab ab", "cab", "ba"}, rand.New(rand.NewPCG(0, 0)))
	if err != nil {
		t.Fatal(err)
	}
	// [2 3 2 5] [4 2 5 1] then [0 5] is dropped.
	want := [][]int{{2, 3, 2, 5}, {4, 2, 5, 1}}
	if len(windows) != len(want) {
		t.Fatalf("got %v want %v", windows, want)
	}
	for i := range want {
		if !slices.Equal(windows[i], want[i]) {
			t.Fatalf("window %d: got %v want %v", i, windows[i], want[i])
		}
	}

	cfg.FIMRate = 1
	if !newPipeline(t, tok, dataset.FromTexts("content"), cfg).FIMEnabled() {
		t.Fatal("expected FIM tokens to resolve from additional_special_tokens")
	}
}
