package resolver

import (
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"goldlens/internal/amount"
	"goldlens/internal/matcher"
	"goldlens/pkg/model"
)

func cand(start, end, rank int, value int64) model.MatchCandidate {
	return model.MatchCandidate{
		Start:             start,
		End:               end,
		RawText:           "x",
		NormalizedAmount:  decimal.NewFromInt(value),
		SourcePatternRank: rank,
		Valid:             true,
	}
}

func TestResolveLongestAtSameStart(t *testing.T) {
	text := "$300 million"
	reps := Resolve(matcher.FindCandidates(text))
	require.Len(t, reps, 1)
	assert.Equal(t, "$300 million", reps[0].OriginalText)
	assert.Equal(t, 0, reps[0].Start)
	assert.Equal(t, len(text), reps[0].End)
	assert.True(t, reps[0].Amount.Equal(decimal.NewFromInt(300_000_000)))
}

func TestResolveGreedySkipsOverlaps(t *testing.T) {
	reps := Resolve([]model.MatchCandidate{
		cand(5, 9, 6, 1),
		cand(0, 6, 6, 1),
		cand(0, 4, 6, 1),
		cand(10, 12, 6, 1),
	})
	require.Len(t, reps, 2)
	assert.Equal(t, [2]int{0, 6}, [2]int{reps[0].Start, reps[0].End})
	assert.Equal(t, [2]int{10, 12}, [2]int{reps[1].Start, reps[1].End})
}

func TestResolveRankBreaksIdenticalSpans(t *testing.T) {
	a := cand(0, 4, 7, 1)
	a.RawText = "low"
	b := cand(0, 4, 2, 1)
	b.RawText = "high"
	reps := Resolve([]model.MatchCandidate{a, b})
	require.Len(t, reps, 1)
	assert.Equal(t, "high", reps[0].OriginalText)
}

func TestResolveDropsInvalid(t *testing.T) {
	bad := cand(0, 12, 0, 1)
	bad.Valid = false
	zero := cand(0, 8, 1, 0)
	reps := Resolve([]model.MatchCandidate{bad, zero, cand(0, 4, 6, 5)})
	require.Len(t, reps, 1)
	assert.Equal(t, 4, reps[0].End)

	assert.Nil(t, Resolve(nil))
}

func TestResolveAdjacentSpansAllowed(t *testing.T) {
	reps := Resolve([]model.MatchCandidate{cand(0, 3, 6, 1), cand(3, 6, 6, 1)})
	assert.Len(t, reps, 2)
}

func TestResolveNeverOverlaps(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	for round := 0; round < 200; round++ {
		var cands []model.MatchCandidate
		for i := 0; i < 20; i++ {
			start := r.Intn(50)
			cands = append(cands, cand(start, start+1+r.Intn(10), r.Intn(9), int64(r.Intn(3))))
		}
		reps := Resolve(cands)
		for i := 1; i < len(reps); i++ {
			assert.LessOrEqual(t, reps[i-1].End, reps[i].Start)
		}
	}
}

func TestResolveDeterministic(t *testing.T) {
	text := "Deal: $1.2 billion, or USD 300 million, or 12k dollars and $5."
	first := Resolve(matcher.FindCandidates(text))
	second := Resolve(matcher.FindCandidates(text))
	assert.Equal(t, first, second)

	var originals []string
	for _, rep := range first {
		originals = append(originals, rep.OriginalText)
		assert.Equal(t, rep.OriginalText, text[rep.Start:rep.End])
	}
	assert.Equal(t, []string{"$1.2 billion", "USD 300 million", "12k dollars", "$5"}, originals)
}

func TestResolveDropsAmountsInsideOverflow(t *testing.T) {
	reps := Resolve(matcher.FindCandidates("The $2000 trillion figure, then $5"))
	require.Len(t, reps, 1)
	assert.Equal(t, "$5", reps[0].OriginalText)

	over := model.MatchCandidate{Start: 0, End: 10, RawText: "x", Err: amount.ErrAboveCeiling}
	below := model.MatchCandidate{Start: 0, End: 10, RawText: "x", Err: amount.ErrBelowMinimum}
	reps = Resolve([]model.MatchCandidate{over, cand(0, 5, 6, 1), cand(10, 12, 6, 1)})
	require.Len(t, reps, 1)
	assert.Equal(t, 10, reps[0].Start)

	reps = Resolve([]model.MatchCandidate{below, cand(0, 5, 6, 1)})
	require.Len(t, reps, 1)
	assert.Equal(t, 0, reps[0].Start)
}
