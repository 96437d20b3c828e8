package dae

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuilderAccumulatesRows(t *testing.T) {
	bld := NewBuilder(2, 1, 4)
	bld.Append(0, []float64{1, 2}, [][]float64{{0, 0}})
	bld.Append(0.5, []float64{3, 4}, [][]float64{{5, 6}})
	require.Equal(t, 2, bld.Len())

	sol := bld.Finish(FlagNormal, Statistics{Steps: 7})
	require.Equal(t, FlagNormal, sol.Flag)
	assert.Equal(t, []float64{0, 0.5}, sol.T)

	r, c := sol.Y.Dims()
	require.Equal(t, 2, r)
	require.Equal(t, 2, c)
	assert.Equal(t, 3.0, sol.Y.At(1, 0))
	assert.Equal(t, 4.0, sol.Y.At(1, 1))

	require.Len(t, sol.YS, 1)
	assert.Equal(t, 0.0, sol.YS[0].At(0, 0))
	assert.Equal(t, 6.0, sol.YS[0].At(1, 1))
	assert.Equal(t, 7, sol.Stats.Steps)
}

func TestBuilderEmptyBody(t *testing.T) {
	bld := NewBuilder(3, 0, 0)
	sol := bld.Finish(FlagIllegalInput, Statistics{})
	assert.Equal(t, FlagIllegalInput, sol.Flag)
	assert.Nil(t, sol.T)
	assert.Nil(t, sol.Y)
	assert.Nil(t, sol.YS)
}

func TestBuilderWithoutSensitivities(t *testing.T) {
	bld := NewBuilder(1, 0, 2)
	bld.Append(0, []float64{1}, nil)
	sol := bld.Finish(FlagNormal, Statistics{})
	assert.Nil(t, sol.YS)
	assert.Equal(t, 1.0, sol.Y.At(0, 0))
}
