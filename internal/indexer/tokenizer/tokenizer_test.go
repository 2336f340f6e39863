package tokenizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokenize(t *testing.T) {
	tokens := Tokenize("The Runners were running quickly to the station")
	terms := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		terms = append(terms, tok.Term)
	}
	assert.Equal(t, []string{"runner", "runn", "quick", "stat"}, terms)
	assert.Equal(t, 3, tokens[3].Position)
}

func TestFieldTokensKeepsReservedFieldsVerbatim(t *testing.T) {
	tokens := FieldTokens("__category", []string{"Books & Media", ""})
	assert.Equal(t, []Token{{Term: "Books & Media", Position: 0}}, tokens)
	assert.True(t, Keyword("__id"))
	assert.False(t, Keyword("title"))
}

func TestFieldTokensPositionsSpanValues(t *testing.T) {
	tokens := FieldTokens("tags", []string{"golang", "search engine"})
	assert.Len(t, tokens, 3)
	assert.Equal(t, 0, tokens[0].Position)
	assert.Greater(t, tokens[1].Position, tokens[0].Position+1)
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "runn", Normalize("body", "Running"))
	assert.Equal(t, "", Normalize("body", "the"))
	assert.Equal(t, "SKU-1", Normalize("__id", "SKU-1"))
	assert.Equal(t, "title:runn", Term("title", Normalize("title", "running")))
}
