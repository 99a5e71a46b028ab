// Package bitcodec converts text to and from space separated 8-bit binary
// groups, e.g. "Hi" <-> "01001000 01101001".
//
// Runes above 0xFF do not fit one group; Encode writes their UTF-8 bytes as
// consecutive groups and Decode maps every group back to the rune of the same
// value, so only single-byte text round-trips exactly.
package bitcodec

import (
	"strconv"
	"strings"
	"unicode/utf8"
)

const groupWidth = 8

// Encode returns the 8-bit group encoding of text in input order.
func Encode(text string) string {
	var b strings.Builder
	b.Grow(len(text) * (groupWidth + 1))

	var buf [utf8.UTFMax]byte
	for _, r := range text {
		if r <= 0xFF {
			writeGroup(&b, byte(r))
			continue
		}
		n := utf8.EncodeRune(buf[:], r)
		for _, c := range buf[:n] {
			writeGroup(&b, c)
		}
	}
	return b.String()
}

func writeGroup(b *strings.Builder, c byte) {
	if b.Len() > 0 {
		b.WriteByte(' ')
	}
	for i := groupWidth - 1; i >= 0; i-- {
		if c&(1<<i) != 0 {
			b.WriteByte('1')
		} else {
			b.WriteByte('0')
		}
	}
}

// Decode maps each whitespace separated 8-digit binary token to a character.
// Malformed tokens are dropped.
func Decode(bits string) string {
	text, _ := DecodeStats(bits)
	return text
}

// DecodeStats is Decode that also reports how many tokens were dropped.
func DecodeStats(bits string) (string, int) {
	tokens := strings.Fields(bits)
	var b strings.Builder
	b.Grow(len(tokens))

	dropped := 0
	for _, tok := range tokens {
		if len(tok) != groupWidth {
			dropped++
			continue
		}
		v, err := strconv.ParseUint(tok, 2, groupWidth)
		if err != nil {
			dropped++
			continue
		}
		b.WriteRune(rune(v))
	}
	return b.String(), dropped
}
