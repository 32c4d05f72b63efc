package export

import (
	"bytes"
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"testing"

	filter "github.com/bmslab/go-estimate"
	"github.com/bmslab/go-estimate/run"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

var snaps []run.Snapshot

func setup() {
	snaps = []run.Snapshot{
		{
			Step: 0,
			T:    0.5,
			X:    mat.NewVecDense(2, []float64{1.0, -2.0}),
			P:    mat.NewSymDense(2, []float64{0.25, 0, 0, 4.0}),
		},
		{
			Step:    1,
			T:       1.0,
			X:       mat.NewVecDense(2, []float64{1.5, -2.5}),
			P:       mat.NewSymDense(2, []float64{1.0, 0, 0, 0.0}),
			Skipped: true,
			Warning: filter.ErrSingularMatrix,
		},
	}
}

func TestMain(m *testing.M) {
	// set up tests
	setup()
	// run the tests
	retCode := m.Run()
	// call with result of m.Run()
	os.Exit(retCode)
}

func TestImplementsExporter(t *testing.T) {
	implements := func(Exporter) {}
	implements(new(CSVExporter))
}

func TestNewCSVExporter(t *testing.T) {
	assert := assert.New(t)

	e, err := NewCSVExporter(nil, []string{"x"})
	assert.Nil(e)
	assert.True(errors.Is(err, filter.ErrInvalidParameter))

	e, err = NewCSVExporter(&bytes.Buffer{}, nil)
	assert.Nil(e)
	assert.True(errors.Is(err, filter.ErrInvalidParameter))

	assert.Equal([]string{"x0", "x1", "x2"}, StateHeaders(3))
}

func TestCSVWrite(t *testing.T) {
	assert := assert.New(t)

	buf := &bytes.Buffer{}
	e, err := NewCSVExporter(buf, []string{"pos", "vel"})
	require.NoError(t, err)

	assert.NoError(e.WriteAll(snaps))
	assert.NoError(e.Close())

	rows, err := csv.NewReader(buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.Equal([]string{"step", "t", "skipped", "pos", "pos+2s", "pos-2s", "vel", "vel+2s", "vel-2s"}, rows[0])
	assert.Equal([]string{"0", "0.5", "false", "1", "2", "0", "-2", "2", "-6"}, rows[1])
	assert.Equal([]string{"1", "1", "true", "1.5", "3.5", "-0.5", "-2.5", "-2.5", "-2.5"}, rows[2])

	// state of wrong size
	err = e.Write(run.Snapshot{X: mat.NewVecDense(3, nil), P: mat.NewSymDense(3, nil)})
	assert.True(errors.Is(err, filter.ErrDimensionMismatch))
}

func TestCreateCSV(t *testing.T) {
	assert := assert.New(t)

	_, err := CreateCSV("/noNoNoNo/temp.csv", []string{"x"})
	assert.Error(err)

	path := filepath.Join(t.TempDir(), "run.csv")
	e, err := CreateCSV(path, StateHeaders(2))
	require.NoError(t, err)

	for _, s := range snaps {
		assert.NoError(e.Write(s))
	}
	assert.NoError(e.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	assert.NoError(err)
	assert.Len(rows, 3)
	assert.Equal("x1-2s", rows[0][8])
}
