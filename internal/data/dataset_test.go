package data

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleCSV = `curve_id,temp,rate,flux
b,16,0.5,1
a,16,0.4,2
a,20,NA,3
b,20,0.9,4
a,24,1.2,5
c,30,,6
`

func sampleOpts() CSVOptions {
	return CSVOptions{
		IDColumn:         "curve_id",
		ResponseColumn:   "rate",
		PredictorColumns: []string{"temp"},
	}
}

func TestLoadCSVFromReader_OmitMissing(t *testing.T) {
	ds, err := LoadCSVFromReader(strings.NewReader(sampleCSV), sampleOpts())
	require.NoError(t, err)

	assert.Len(t, ds.Rows, 4)
	assert.Equal(t, 2, ds.Dropped)
	assert.Equal(t, "curve_id", ds.IDColumn)
}

func TestLoadCSVFromReader_FailOnMissing(t *testing.T) {
	opts := sampleOpts()
	opts.NAAction = NAFail

	_, err := LoadCSVFromReader(strings.NewReader(sampleCSV), opts)
	require.Error(t, err)

	var mv *MissingValueError
	assert.True(t, errors.As(err, &mv))
}

func TestLoadCSVFromReader_UnknownColumn(t *testing.T) {
	opts := sampleOpts()
	opts.PredictorColumns = []string{"pressure"}

	_, err := LoadCSVFromReader(strings.NewReader(sampleCSV), opts)
	assert.ErrorContains(t, err, "pressure")
}

func TestLoadCSVFromReader_BadNumber(t *testing.T) {
	in := "id,x,y\na,1,foo\n"
	_, err := LoadCSVFromReader(strings.NewReader(in), CSVOptions{IDColumn: "id", ResponseColumn: "y", PredictorColumns: []string{"x"}})
	assert.Error(t, err)
}

func TestLoadCSV_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.csv")
	require.NoError(t, os.WriteFile(path, []byte(sampleCSV), 0644))

	ds, err := LoadCSV(path, sampleOpts())
	require.NoError(t, err)
	assert.Len(t, ds.Rows, 4)
}

func TestPartitions_FirstAppearanceOrder(t *testing.T) {
	ds, err := LoadCSVFromReader(strings.NewReader(sampleCSV), sampleOpts())
	require.NoError(t, err)

	parts := ds.Partitions()
	require.Len(t, parts, 2)
	assert.Equal(t, "b", parts[0].ID)
	assert.Equal(t, "a", parts[1].ID)
	assert.Equal(t, 2, parts[0].Len())
	assert.Equal(t, []float64{0.4, 1.2}, parts[1].Responses())
}

func TestPartition_RangeAndMeans(t *testing.T) {
	ds, err := New("id", "y", []string{"x", "z"}, []Row{
		{ID: "a", Response: 1, Predictors: []float64{16, 1}},
		{ID: "a", Response: 2, Predictors: []float64{40, 3}},
		{ID: "a", Response: 3, Predictors: []float64{25, 2}},
		{ID: "b", Response: 3, Predictors: []float64{100, 2}},
	}, NAOmit)
	require.NoError(t, err)

	p, ok := ds.Partition("a")
	require.True(t, ok)

	lo, hi := p.Range(0)
	assert.Equal(t, 16.0, lo)
	assert.Equal(t, 40.0, hi)
	assert.Equal(t, []float64{27, 2}, p.Means())

	_, ok = ds.Partition("zzz")
	assert.False(t, ok)
}

func TestNew_PredictorCountMismatch(t *testing.T) {
	_, err := New("id", "y", []string{"x"}, []Row{{ID: "a", Response: 1, Predictors: []float64{1, 2}}}, NAOmit)
	assert.Error(t, err)
}

func TestParseValue_NATokens(t *testing.T) {
	for _, tok := range []string{"", "NA", "NaN", "null", "  "} {
		v, err := parseValue(tok)
		require.NoError(t, err)
		assert.True(t, math.IsNaN(v), "token %q", tok)
	}
}
