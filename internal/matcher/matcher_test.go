package matcher

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goldlens/internal/amount"
	"goldlens/pkg/model"
)

func raws(cands []model.MatchCandidate) []string {
	out := make([]string, 0, len(cands))
	for _, c := range cands {
		out = append(out, c.RawText)
	}
	return out
}

func TestFindCandidatesSurfaceForms(t *testing.T) {
	cases := []struct {
		name   string
		text   string
		raw    string
		amount string
	}{
		{"symbol scale word", "raised $300 million today", "$300 million", "300000000"},
		{"suffix scale word", "about 300 million dollars", "300 million dollars", "300000000"},
		{"code scale word", "a USD 1.5 billion deal", "USD 1.5 billion", "1500000000"},
		{"symbol scale letter", "salary $100k", "$100k", "100000"},
		{"suffix scale letter", "worth 100k dollars", "100k dollars", "100000"},
		{"symbol grouped cents", "Total: $1,234.56.", "$1,234.56", "1234.56"},
		{"code plain", "costs usd 123", "usd 123", "123"},
		{"suffix plain", "only 123 dollars!", "123 dollars", "123"},
		{"nbsp after symbol", "$\u00a042", "$\u00a042", "42"},
		{"us dollar symbol", "US$250 fee", "US$250", "250"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cands := FindCandidates(tc.text)
			var found *model.MatchCandidate
			for i := range cands {
				if cands[i].RawText == tc.raw {
					found = &cands[i]
				}
			}
			require.NotNil(t, found, "candidates: %v", raws(cands))
			assert.True(t, found.Valid)
			assert.Equal(t, tc.raw, tc.text[found.Start:found.End])
			assert.True(t, decimal.RequireFromString(tc.amount).Equal(found.NormalizedAmount))
		})
	}
}

func TestFindCandidatesCollectsOverlappingForms(t *testing.T) {
	cands := FindCandidates("$300 million")
	assert.ElementsMatch(t, []string{"$300 million", "$300"}, raws(cands))

	var ranks []int
	for _, c := range cands {
		ranks = append(ranks, c.SourcePatternRank)
	}
	assert.Contains(t, ranks, 0)
}

func TestFindCandidatesBoundaries(t *testing.T) {
	t.Run("never splits a longer number", func(t *testing.T) {
		cands := FindCandidates("$12345")
		assert.Equal(t, []string{"$12345"}, raws(cands))
	})
	t.Run("letter before suffix amount", func(t *testing.T) {
		assert.Empty(t, FindCandidates("abc123 dollars"))
	})
	t.Run("digit glued after", func(t *testing.T) {
		assert.Empty(t, FindCandidates("$1,234.567"))
	})
	t.Run("foreign dollar prefix", func(t *testing.T) {
		assert.Empty(t, FindCandidates("CA$100"))
	})
	t.Run("letter after plain amount", func(t *testing.T) {
		assert.Empty(t, FindCandidates("$100abc"))
	})
	t.Run("scale letter must stand alone", func(t *testing.T) {
		assert.Equal(t, []string{"$5"}, raws(FindCandidates("$5 months")))
	})
	t.Run("spaced letter is not a scale", func(t *testing.T) {
		assert.Equal(t, []string{"$3"}, raws(FindCandidates("Buy 2 for $3 T-shirts")))
		assert.Equal(t, []string{"$5"}, raws(FindCandidates("$5 M&Ms")))
		assert.Equal(t, []string{"$5"}, raws(FindCandidates("Only $5 b/w prints")))
		assert.Equal(t, []string{"USD 7"}, raws(FindCandidates("USD 7 k-cups")))
	})
	t.Run("no digits", func(t *testing.T) {
		assert.Nil(t, FindCandidates("no money here"))
	})
	t.Run("punctuation after", func(t *testing.T) {
		assert.Equal(t, []string{"$5", "$10"}, raws(FindCandidates("($5/$10)")))
	})
}

func TestFindCandidatesMarksMalformed(t *testing.T) {
	cands := FindCandidates("now $0 off")
	require.Len(t, cands, 1)
	assert.False(t, cands[0].Valid)
}

func TestFindCandidatesSortedByStart(t *testing.T) {
	cands := FindCandidates("$5 then 10 dollars then USD 7")
	require.Len(t, cands, 3)
	for i := 1; i < len(cands); i++ {
		assert.LessOrEqual(t, cands[i-1].Start, cands[i].Start)
	}
}

func TestCatalogOrder(t *testing.T) {
	forms := Default().Forms()
	require.Len(t, forms, 9)
	for i := 1; i < len(forms); i++ {
		assert.LessOrEqual(t, forms[i-1].Tier, forms[i].Tier)
	}
}

func TestFindCandidatesSymbolWithDollarSuffix(t *testing.T) {
	cands := FindCandidates("pay $100 dollars now")
	require.Len(t, cands, 1)
	assert.Equal(t, "$100 dollars", cands[0].RawText)
	assert.True(t, cands[0].Valid)

	assert.Equal(t, []string{"$100"}, raws(FindCandidates("$100 dollarsign")))
}

func TestFindCandidatesCarriesParseError(t *testing.T) {
	cands := FindCandidates("The $2000 trillion figure")
	var over *model.MatchCandidate
	for i := range cands {
		if cands[i].RawText == "$2000 trillion" {
			over = &cands[i]
		}
	}
	require.NotNil(t, over, "candidates: %v", raws(cands))
	assert.False(t, over.Valid)
	assert.ErrorIs(t, over.Err, amount.ErrAboveCeiling)
}
