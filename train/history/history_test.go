package history

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPhaseRegisterAndAppend(t *testing.T) {
	h := New()
	h.Train.Register(Losses)
	h.Train.Register("acc")
	h.Train.Register("acc") // registering twice is a no-op
	require.Equal(t, []string{Losses, "acc"}, h.Train.Names())

	h.Train.AppendValue(Losses, 0.5)
	h.Train.AppendValue(Losses, 0.25)
	h.Train.Append(Losses, nil)
	require.Equal(t, 3, h.Train.Len(Losses))
	assert.Nil(t, h.Train.Latest(Losses))
	assert.Equal(t, 0.25, *h.Train.Series(Losses)[1])

	// Appending to an unknown metric registers it on the fly.
	h.Valid.AppendValue("f1", 0.9)
	assert.True(t, h.Valid.Has("f1"))
	assert.Equal(t, 0.9, *h.Valid.Latest("f1"))
}

func TestPhaseArgMin(t *testing.T) {
	p := NewPhase("train")
	for _, v := range []float64{0.9, 0.3, 0.7} {
		p.AppendValue(Losses, v)
	}
	p.Append(Losses, nil) // nil entries never win
	assert.Equal(t, 1, p.ArgMin(Losses))
	assert.Equal(t, -1, p.ArgMin("missing"))
}

func TestPhaseJSONRoundTrip(t *testing.T) {
	p := NewPhase("train")
	p.Register(Losses)
	p.Register("acc")
	p.AppendValue(Losses, 1.5)
	p.Append(Losses, nil)
	p.AppendValue(Losses, 0.5)
	p.AppendValue("acc", 0.75)

	encoded, err := json.Marshal(p)
	require.NoError(t, err)

	decoded := NewPhase("train")
	require.NoError(t, json.Unmarshal(encoded, decoded))
	require.Equal(t, []string{Losses, "acc"}, decoded.Names())
	require.Equal(t, 3, decoded.Len(Losses))
	assert.Equal(t, 1.5, *decoded.Series(Losses)[0])
	assert.Nil(t, decoded.Series(Losses)[1])
	assert.Equal(t, 0.5, *decoded.Series(Losses)[2])
	assert.Equal(t, 0.75, *decoded.Latest("acc"))
}

func TestHistoryJSONRoundTrip(t *testing.T) {
	h := New()
	h.Train.AppendValue(Losses, 0.5)
	h.Valid.Append(Losses, nil)

	encoded, err := json.Marshal(h)
	require.NoError(t, err)

	decoded := New()
	require.NoError(t, json.Unmarshal(encoded, decoded))
	assert.Equal(t, 0.5, *decoded.Train.Latest(Losses))
	assert.Equal(t, 1, decoded.Valid.Len(Losses))
	assert.Nil(t, decoded.Valid.Latest(Losses))
}

func TestHistoryMerge(t *testing.T) {
	h := New()
	h.Train.AppendValue(Losses, 0.9)
	h.Train.AppendValue("acc", 0.5)

	other := New()
	other.Train.AppendValue(Losses, 0.1)
	other.Train.AppendValue(Losses, 0.05)

	h.Merge(other)
	require.Equal(t, 2, h.Train.Len(Losses)) // same-name series replaced
	assert.Equal(t, 0.05, *h.Train.Latest(Losses))
	assert.Equal(t, 0.5, *h.Train.Latest("acc")) // untouched
}

func TestHistoryDataFrame(t *testing.T) {
	h := New()
	h.Train.AppendValue(Losses, 0.5)
	h.Train.AppendValue(Losses, 0.25)
	h.Valid.AppendValue(Losses, 0.6)
	h.Valid.Append(Losses, nil)

	df := h.DataFrame()
	require.Equal(t, 2, df.Nrow())
	require.Contains(t, df.Names(), "train.losses")
	require.Contains(t, df.Names(), "valid.losses")

	validCol := df.Col("valid.losses").Float()
	assert.Equal(t, 0.6, validCol[0])
	assert.True(t, math.IsNaN(validCol[1]))
}
