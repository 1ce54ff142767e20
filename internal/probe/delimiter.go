package probe

import (
	"fmt"
	"unicode/utf8"
)

// Delimiter tokens exchanged at the service boundary. Internally everything
// works with the literal rune.
const (
	TokenComma     = "comma"
	TokenSemicolon = "semicolon"
	TokenTab       = "tab"
	TokenPipe      = "pipe"
)

// ParseDelimiter maps a boundary token (or a literal single character) to
// its delimiter rune. An empty string means "no hint" and returns 0.
func ParseDelimiter(s string) (rune, error) {
	switch s {
	case "":
		return 0, nil
	case TokenComma:
		return ',', nil
	case TokenSemicolon:
		return ';', nil
	case TokenTab:
		return '\t', nil
	case TokenPipe:
		return '|', nil
	}
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError || size != len(s) {
		return 0, fmt.Errorf("probe: unknown delimiter %q", s)
	}
	for _, c := range candidates {
		if r == c {
			return r, nil
		}
	}
	return 0, fmt.Errorf("probe: unsupported delimiter %q", s)
}

// DelimiterToken is the inverse of ParseDelimiter for the supported runes.
func DelimiterToken(r rune) string {
	switch r {
	case ';':
		return TokenSemicolon
	case '\t':
		return TokenTab
	case '|':
		return TokenPipe
	default:
		return TokenComma
	}
}
