// Package analyzer turns text into the terms stored in the inverted index.
// Analyzers are looked up by name through a Registry so that a schema can bind
// each field to one of them.
package analyzer

import (
	"strings"
	"unicode"
)

// Token represents a single normalised term and its position in the
// original text.
type Token struct {
	Term     string `json:"term"`
	Position int    `json:"position"`
}

// Analyzer splits text into tokens. Implementations must be safe for
// concurrent use.
type Analyzer interface {
	Tokenize(text string) []Token
}

// Func adapts a plain function to the Analyzer interface.
type Func func(text string) []Token

func (f Func) Tokenize(text string) []Token {
	return f(text)
}

// Ngram emits every contiguous run of Min..Max runes from the lowercased
// input, ordered by start offset and then by length.
type Ngram struct {
	Min int
	Max int
}

func NewNgram(min, max int) *Ngram {
	return &Ngram{Min: min, Max: max}
}

func (n *Ngram) Tokenize(text string) []Token {
	runes := []rune(strings.ToLower(text))
	if len(runes) < n.Min {
		return nil
	}
	tokens := make([]Token, 0, len(runes)*(n.Max-n.Min+1))
	pos := 0
	for start := range runes {
		for size := n.Min; size <= n.Max; size++ {
			if start+size > len(runes) {
				break
			}
			tokens = append(tokens, Token{
				Term:     string(runes[start : start+size]),
				Position: pos,
			})
			pos++
		}
	}
	return tokens
}

// WhitespaceLowercase splits on whitespace runs and lowercases each token.
func WhitespaceLowercase(text string) []Token {
	words := strings.Fields(strings.ToLower(text))
	tokens := make([]Token, 0, len(words))
	for i, word := range words {
		tokens = append(tokens, Token{Term: word, Position: i})
	}
	return tokens
}

// Simple lowercases and splits on anything that is not a letter or digit.
func Simple(text string) []Token {
	words := splitWords(text)
	tokens := make([]Token, 0, len(words))
	for i, word := range words {
		tokens = append(tokens, Token{Term: word, Position: i})
	}
	return tokens
}

// Raw keeps the whole value as one token.
func Raw(text string) []Token {
	if text == "" {
		return nil
	}
	return []Token{{Term: text, Position: 0}}
}

func splitWords(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
