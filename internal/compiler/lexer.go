package compiler

import (
	"fmt"
	"strconv"
	"strings"
)

type token struct {
	text   string
	col    int
	quoted bool
}

// tokenize splits one source line into whitespace separated tokens.
// Double quoted tokens may contain spaces and Go escapes; ';' starts a
// comment outside quotes.
func tokenize(line string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(line) {
		c := line[i]
		switch {
		case c == ' ' || c == '\t' || c == '\r':
			i++
		case c == ';':
			return toks, nil
		case c == '"':
			start := i
			i++
			for i < len(line) && line[i] != '"' {
				if line[i] == '\\' {
					i++
				}
				i++
			}
			if i >= len(line) {
				return nil, fmt.Errorf("column %d: unterminated string", start+1)
			}
			i++
			s, err := strconv.Unquote(line[start:i])
			if err != nil {
				return nil, fmt.Errorf("column %d: bad string literal", start+1)
			}
			toks = append(toks, token{text: s, col: start + 1, quoted: true})
		default:
			start := i
			for i < len(line) && !strings.ContainsRune(" \t\r;\"", rune(line[i])) {
				i++
			}
			toks = append(toks, token{text: line[start:i], col: start + 1})
		}
	}
	return toks, nil
}
