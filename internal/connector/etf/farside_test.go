package etf

import (
	"strings"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleHTML = `
<html><body>
<table><tr><td>nav</td></tr></table>
<table>
<tr><td></td><td>IBIT</td><td>FBTC</td><td>Total</td></tr>
<tr><td>Date</td><td>BlackRock</td><td>Fidelity</td><td></td></tr>
<tr><td>06 Jan 2025</td><td>120.5</td><td>(15.2)</td><td>105.3</td></tr>
<tr><td>05 Jan 2025</td><td>-</td><td>8.0</td><td>8.0</td></tr>
</table>
</body></html>
`

func TestParseFlowTable_ParsesRowsAndSkipsNoData(t *testing.T) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(sampleHTML))
	require.NoError(t, err)

	rows := parseFlowTable(doc, "BTC", zerolog.Nop())
	require.Len(t, rows, 3)

	assert.Equal(t, "IBIT", rows[0].Label)
	assert.True(t, rows[0].Value.Equal(decimal.NewFromFloat(120_500_000)))

	assert.Equal(t, "FBTC", rows[1].Label)
	assert.True(t, rows[1].Value.IsNegative())

	assert.Equal(t, "FBTC", rows[2].Label)
}

func TestMarketCloseTimestamp_AlignsToNYClose(t *testing.T) {
	d := time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC)
	ts := marketCloseTimestamp(d)
	assert.Equal(t, time.UTC, ts.Location())
}

func TestParseFlowValue_HandlesParensAndDashes(t *testing.T) {
	v, ok := parseFlowValue("(15.2)")
	require.True(t, ok)
	assert.Equal(t, -15_200_000.0, v)

	_, ok = parseFlowValue("-")
	assert.False(t, ok)

	v, ok = parseFlowValue("$1,234.5M")
	require.True(t, ok)
	assert.Equal(t, 1_234_500_000.0, v)
}
