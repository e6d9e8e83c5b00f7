package tokenizer

import (
	"cmp"
	"slices"
	"strings"
)

// Pair is one BPE merge rule.
type Pair struct {
	A string
	B string
}

type textPart struct {
	text      string
	isSpecial bool
}

func splitMerge(line string) (Pair, bool) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return Pair{}, false
	}
	a, b, ok := strings.Cut(line, " ")
	if !ok || a == "" || b == "" || strings.Contains(b, " ") {
		return Pair{}, false
	}
	return Pair{A: a, B: b}, true
}

func splitRunes(s string) []string {
	out := make([]string, 0, len(s))
	for _, r := range s {
		out = append(out, string(r))
	}
	return out
}

func getPairs(word []string) map[Pair]struct{} {
	pairs := make(map[Pair]struct{}, len(word))
	for i := 1; i < len(word); i++ {
		pairs[Pair{A: word[i-1], B: word[i]}] = struct{}{}
	}
	return pairs
}

func mergePair(word []string, pair Pair) []string {
	out := make([]string, 0, len(word))
	for i := 0; i < len(word); i++ {
		if i < len(word)-1 && word[i] == pair.A && word[i+1] == pair.B {
			out = append(out, word[i]+word[i+1])
			i++
			continue
		}
		out = append(out, word[i])
	}
	return out
}

// sortSpecials orders specials longest first so that overlapping tokens
// (<fim_prefix> vs <fim_pre>) match greedily.
func sortSpecials(specials []string) []string {
	out := slices.Clone(specials)
	slices.SortStableFunc(out, func(a, b string) int {
		return cmp.Compare(len(b), len(a))
	})
	return slices.Compact(out)
}

// splitSpecials cuts text into plain runs and exact special-token matches.
func splitSpecials(text string, specials []string) []textPart {
	present := specials[:0:0]
	for _, sp := range specials {
		if sp != "" && strings.Contains(text, sp) {
			present = append(present, sp)
		}
	}
	if len(present) == 0 {
		return []textPart{{text: text}}
	}

	var parts []textPart
	start := 0
	for i := 0; i < len(text); {
		match := ""
		for _, sp := range present {
			if strings.HasPrefix(text[i:], sp) {
				match = sp
				break
			}
		}
		if match == "" {
			i++
			continue
		}
		if i > start {
			parts = append(parts, textPart{text: text[start:i]})
		}
		parts = append(parts, textPart{text: match, isSpecial: true})
		i += len(match)
		start = i
	}
	if start < len(text) {
		parts = append(parts, textPart{text: text[start:]})
	}
	return parts
}

// bytesToUnicode maps bytes to printable runes so BPE merges operate on
// strings that round-trip back to the original bytes.
func bytesToUnicode() (map[byte]string, map[string]byte) {
	var bs []int
	for i := int('!'); i <= int('~'); i++ {
		bs = append(bs, i)
	}
	for i := int('¡'); i <= int('¬'); i++ {
		bs = append(bs, i)
	}
	for i := int('®'); i <= int('ÿ'); i++ {
		bs = append(bs, i)
	}

	cs := slices.Clone(bs)
	n := 0
	for b := 0; b < 256; b++ {
		if !slices.Contains(bs, b) {
			bs = append(bs, b)
			cs = append(cs, 256+n)
			n++
		}
	}

	byteEncoder := make(map[byte]string, len(bs))
	byteDecoder := make(map[string]byte, len(bs))
	for i := range bs {
		s := string(rune(cs[i]))
		byteEncoder[byte(bs[i])] = s
		byteDecoder[s] = byte(bs[i])
	}
	return byteEncoder, byteDecoder
}
