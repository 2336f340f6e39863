package tokenizer

import "strings"

// Keyword reports whether field is indexed verbatim. Reserved fields start
// with a double underscore.
func Keyword(field string) bool {
	return strings.HasPrefix(field, "__")
}

// FieldTokens analyses every value of field. Positions continue across
// values so phrase positions never straddle two values.
func FieldTokens(field string, values []string) []Token {
	if Keyword(field) {
		tokens := make([]Token, 0, len(values))
		for i, v := range values {
			if v != "" {
				tokens = append(tokens, Token{Term: v, Position: i})
			}
		}
		return tokens
	}
	var tokens []Token
	pos := 0
	for _, v := range values {
		next := tokenizeFrom(v, pos)
		if len(next) > 0 {
			tokens = append(tokens, next...)
			pos = next[len(next)-1].Position + 2
		}
	}
	return tokens
}

// Normalize analyses a single query or delete term for field. It returns
// "" when the value analyses to nothing (a stop-word, say).
func Normalize(field, value string) string {
	if Keyword(field) {
		return value
	}
	tokens := Tokenize(value)
	if len(tokens) == 0 {
		return ""
	}
	return tokens[0].Term
}

// Term joins a field and an analysed token into the key used by postings.
func Term(field, token string) string {
	return field + ":" + token
}
