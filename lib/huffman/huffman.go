// Package huffman implements the fixed 47-symbol code table used to
// pack domain names into the address codec's IPv6 payload: the End
// sentinel, the 26 lowercase letters, 13 punctuation/digit characters
// and 7 composite domain-suffix tokens, each assigned a prefix-free
// code under a two-tier 5-bit/9-bit scheme.
//
// Grounded on original_source/src/huffman.rs: the code table is built
// once at init and the two-tier structure (a 5-bit escape value
// followed, when it hits the reserved all-ones pattern, by 4 more
// bits) is exact enough that encode and decode don't need a general
// prefix-tree walk — a closed-form lookup suffices, which is what
// WriteChar/WriteComposite/WriteEnd and ReadSymbol below do.
package huffman

import (
	"github.com/pkg/errors"

	"github.com/stproxy/stproxy/lib/bitio"
)

// Kind distinguishes the three shapes a decoded symbol can take.
type Kind int

const (
	KindEnd Kind = iota
	KindChar
	KindComposite
)

// Symbol is one entry of the alphabet: the End sentinel, a single
// character, or a composite domain-suffix token.
type Symbol struct {
	Kind      Kind
	Char      byte
	Composite string
}

// CompositeCodes lists the 7 composite tokens in the fixed match order
// the encoder tries them in: www. is anchored at position 0 in typical
// inputs, so it is tried before any of the TLD suffixes.
var CompositeCodes = [...]string{"www.", ".com", ".net", ".org", ".edu", ".gov", ".info"}

// plainChars lists the 13 non-letter alphabet characters in the exact
// order the spec assigns them, after the 26 lowercase letters.
const plainChars = ".-0123456789_"

type codeWord struct {
	value uint64
	bits  int
}

var (
	alphabet   []Symbol
	writeCodes []codeWord // parallel to alphabet, by index
	charIndex  = map[byte]int{}
)

func init() {
	alphabet = make([]Symbol, 0, 47)
	alphabet = append(alphabet, Symbol{Kind: KindEnd})
	for c := byte('a'); c <= 'z'; c++ {
		alphabet = append(alphabet, Symbol{Kind: KindChar, Char: c})
	}
	for i := 0; i < len(plainChars); i++ {
		alphabet = append(alphabet, Symbol{Kind: KindChar, Char: plainChars[i]})
	}
	for _, tok := range CompositeCodes {
		alphabet = append(alphabet, Symbol{Kind: KindComposite, Composite: tok})
	}
	if len(alphabet) != 47 {
		panic("huffman: alphabet must have exactly 47 symbols")
	}

	writeCodes = make([]codeWord, len(alphabet))
	for i := range alphabet {
		if i < 31 {
			writeCodes[i] = codeWord{value: uint64(i), bits: 5}
		} else {
			// Escape prefix 11111 followed by 4 bits of (i-31).
			// original_source/src/huffman.rs builds this by pushing
			// the value's bits LSB-first, appending five 1 bits,
			// then reversing the whole thing — which works out to
			// "11111" followed by the big-endian 4-bit value, not
			// the other way around. Putting the escape first is also
			// the only order under which property 3 (no code is a
			// prefix of another) actually holds, since every 5-bit
			// short code other than 11111 is then automatically
			// distinct from every long code's first 5 bits.
			ext := uint64(i - 31)
			writeCodes[i] = codeWord{value: (0x1f << 4) | ext, bits: 9}
		}
	}

	for i, sym := range alphabet {
		if sym.Kind == KindChar {
			charIndex[sym.Char] = i
		}
	}
}

// HasChar reports whether ch is in the codec alphabet.
func HasChar(ch byte) bool {
	_, ok := charIndex[ch]
	return ok
}

// WriteChar encodes a single alphabet character.
func WriteChar(w *bitio.Writer, ch byte) error {
	idx, ok := charIndex[ch]
	if !ok {
		return errors.Errorf("huffman: character %q is not in the alphabet", ch)
	}
	return writeIndex(w, idx)
}

// WriteComposite encodes one of the fixed composite tokens.
func WriteComposite(w *bitio.Writer, token string) error {
	for i, sym := range alphabet {
		if sym.Kind == KindComposite && sym.Composite == token {
			return writeIndex(w, i)
		}
	}
	return errors.Errorf("huffman: %q is not a composite token", token)
}

// WriteEnd encodes the End sentinel that terminates a domain.
func WriteEnd(w *bitio.Writer) error {
	return writeIndex(w, 0)
}

func writeIndex(w *bitio.Writer, idx int) error {
	cw := writeCodes[idx]
	return w.WriteBits(cw.value, cw.bits)
}

// ReadSymbol decodes the next symbol from r. Running out of bits
// partway through a code is reported as bitio.ErrNoSpace so that
// callers (the codec's domain reader) can treat truncation as an
// implicit End, per the codec's truncation-tolerance rule.
func ReadSymbol(r *bitio.Reader) (Symbol, error) {
	v, err := r.ReadBits(5)
	if err != nil {
		return Symbol{}, err
	}
	if v != 0x1f {
		return alphabet[v], nil
	}
	ext, err := r.ReadBits(4)
	if err != nil {
		return Symbol{}, err
	}
	idx := 31 + int(ext)
	if idx >= len(alphabet) {
		return Symbol{}, errors.New("huffman: decoded index out of range")
	}
	return alphabet[idx], nil
}
