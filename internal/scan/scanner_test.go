package scan

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"

	"goldlens/internal/dom"
	"goldlens/pkg/model"
)

func rateOf(v string) *model.ExchangeRate {
	return &model.ExchangeRate{
		RatePerUnit: decimal.RequireFromString(v),
		Source:      "test",
		ObservedAt:  time.Unix(1700000000, 0),
	}
}

func parseDoc(t *testing.T, s string) *html.Node {
	t.Helper()
	root, err := html.Parse(strings.NewReader(s))
	require.NoError(t, err)
	return root
}

func renderDoc(t *testing.T, n *html.Node) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, html.Render(&buf, n))
	return buf.String()
}

func TestPlan(t *testing.T) {
	p := NewPlanner(nil)
	text := "Raised $300 million; fee $1.00 and 50,000 dollars."

	reps := p.Plan(text, rateOf("2000"), model.DisplayMetric)
	require.Len(t, reps, 3)
	assert.Equal(t, "$300 million", reps[0].OriginalText)
	assert.Equal(t, "150,000.00 g", reps[0].DisplayText)
	assert.Equal(t, "$1.00", reps[1].OriginalText)
	assert.Equal(t, "0.50 mg", reps[1].DisplayText)
	assert.Equal(t, "50,000 dollars", reps[2].OriginalText)
	assert.Equal(t, "25.00 g", reps[2].DisplayText)

	for i, r := range reps {
		assert.Equal(t, r.OriginalText, text[r.Start:r.End])
		if i > 0 {
			assert.LessOrEqual(t, reps[i-1].End, r.Start)
		}
	}

	assert.Nil(t, p.Plan(text, nil, model.DisplayMetric))
	assert.Nil(t, p.Plan("nothing here 42", rateOf("2000"), model.DisplayMetric))
}

func TestPlanTroy(t *testing.T) {
	reps := NewPlanner(nil).Plan("$62,207", rateOf("2000"), model.DisplayTroy)
	require.Len(t, reps, 1)
	assert.Equal(t, "1.00 ozt", reps[0].DisplayText)
}

func TestScanIdempotent(t *testing.T) {
	root := parseDoc(t, `<html><head></head><body><p>Price $50,000 today</p><ul><li>$1</li><li>USD 300 million</li></ul></body></html>`)
	s := NewScanner(nil, nil)

	first := s.Scan(root, rateOf("2000"), model.DisplayMetric)
	assert.Equal(t, 3, first.Converted)
	assert.Len(t, first.Mutations, 3)
	assert.Equal(t, 3, dom.CountAnnotations(root))
	out := renderDoc(t, root)
	assert.Contains(t, out, `title="$50,000"`)
	assert.Contains(t, out, `25.00 g</span> today`)

	second := s.Scan(root, rateOf("2000"), model.DisplayMetric)
	assert.Equal(t, 0, second.Converted)
	assert.Equal(t, 0, second.Nodes)
	assert.Equal(t, out, renderDoc(t, root))
}

func TestScanWithoutRateLeavesTextUnchanged(t *testing.T) {
	const src = `<html><head></head><body><p>Price $50,000</p><p>and 12k dollars</p></body></html>`
	root := parseDoc(t, src)
	s := NewScanner(nil, nil)

	res := s.Scan(root, nil, model.DisplayMetric)
	assert.Equal(t, 0, res.Converted)
	assert.Equal(t, 2, res.Nodes)
	assert.Equal(t, src, renderDoc(t, root))

	res = s.Scan(root, rateOf("2000"), model.DisplayMetric)
	assert.Equal(t, 2, res.Converted)
}

func TestScanRoundTrip(t *testing.T) {
	const src = `<html><head></head><body><p>Cost $5 or 10 dollars total</p></body></html>`
	root := parseDoc(t, src)
	s := NewScanner(nil, nil)
	rate := rateOf("2000")

	s.Scan(root, rate, model.DisplayMetric)
	converted := renderDoc(t, root)

	assert.Equal(t, 2, dom.RevertAll(root))
	s.Processed().Clear()
	assert.Equal(t, src, renderDoc(t, root))

	s.Scan(root, rate, model.DisplayMetric)
	assert.Equal(t, converted, renderDoc(t, root))
}

func TestScanSkipsNonContent(t *testing.T) {
	const src = `<html><head><title>$5</title></head><body><script>var a = "$5";</script><code>$5</code><p contenteditable="true">$5</p></body></html>`
	root := parseDoc(t, src)
	res := NewScanner(nil, nil).Scan(root, rateOf("2000"), model.DisplayMetric)
	assert.Equal(t, 0, res.Converted)
	assert.Equal(t, src, renderDoc(t, root))
}
