package fim

import "github.com/samcharles93/codepack/internal/tokenizer"

// TokenSet holds the marker and pad ids used by Permute.
type TokenSet struct {
	Prefix int
	Middle int
	Suffix int
	Pad    int
}

// Surface strings used when a tokenizer_config lists no additional
// special tokens.
var defaultSurfaces = [4]string{"<fim_prefix>", "<fim_middle>", "<fim_suffix>", "<fim_pad>"}

// Resolve looks up the FIM markers in vocab. StarCoder-style configs list
// them as additional_special_tokens[1:5] in prefix, middle, suffix, pad
// order; otherwise the conventional surface strings are tried. ok is false
// when any of the four ids cannot be found.
func Resolve(vocab tokenizer.Vocabulary) (TokenSet, bool) {
	if add := vocab.SpecialTokens().Additional; len(add) >= 5 {
		if set, ok := lookup(vocab, [4]string(add[1:5])); ok {
			return set, true
		}
	}
	return lookup(vocab, defaultSurfaces)
}

func lookup(vocab tokenizer.Vocabulary, names [4]string) (TokenSet, bool) {
	var ids [4]int
	for i, name := range names {
		id, ok := vocab.TokenID(name)
		if !ok {
			return TokenSet{}, false
		}
		ids[i] = id
	}
	return TokenSet{Prefix: ids[0], Middle: ids[1], Suffix: ids[2], Pad: ids[3]}, true
}
