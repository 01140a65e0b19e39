package worker

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auroraframe/screensaver/internal/logx"
	"github.com/auroraframe/screensaver/internal/workermsg"
)

func sineSamples(n int, freqHz, sampleRate float64) []any {
	out := make([]any, n)
	for i := 0; i < n; i++ {
		out[i] = math.Sin(2 * math.Pi * freqHz * float64(i) / sampleRate)
	}
	return out
}

func TestFFTFrameProducesBarsInRange(t *testing.T) {
	h := NewFFTHandler(logx.New("test"))
	payload, err := workermsg.NewPayload(map[string]any{
		"samples": sineSamples(1024, 440, 44100), "sample_rate": 44100.0,
	})
	require.NoError(t, err)

	resp, err := h.HandleMessage(workermsg.Message{Type: workermsg.MsgFFTFrame, Payload: payload})
	require.NoError(t, err)
	assert.True(t, resp.Success)

	pm := resp.PayloadMap()
	bars, ok := pm["bars"].([]any)
	require.True(t, ok)
	assert.Len(t, bars, 16)
	for _, b := range bars {
		v := b.(float64)
		assert.GreaterOrEqual(t, v, 0.0)
		assert.LessOrEqual(t, v, 1.0)
	}
}

func TestFFTConfigChangesBarCount(t *testing.T) {
	h := NewFFTHandler(logx.New("test"))
	payload, err := workermsg.NewPayload(map[string]any{"bar_count": float64(32)})
	require.NoError(t, err)

	resp, err := h.HandleMessage(workermsg.Message{Type: workermsg.MsgFFTConfig, Payload: payload})
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, 32, h.cfg.barCount)
	assert.Len(t, h.state.bars, 32)
}

func TestFFTFrameWithNoSamplesReturnsCurrentState(t *testing.T) {
	h := NewFFTHandler(logx.New("test"))
	resp, err := h.HandleMessage(workermsg.Message{Type: workermsg.MsgFFTFrame})
	require.NoError(t, err)
	assert.True(t, resp.Success)
	pm := resp.PayloadMap()
	assert.Len(t, pm["bars"], 16)
}

func TestUpdatePeaksGhostDecay(t *testing.T) {
	h := NewFFTHandler(logx.New("test"))
	h.state.bars[0] = 0.8
	h.updatePeaks()
	assert.Equal(t, 0.8, h.state.peaks[0])

	h.state.bars[0] = 0.2
	h.updatePeaks()
	assert.InDelta(t, 0.8*h.cfg.ghostDecay, h.state.peaks[0], 1e-9)
}

func TestNextPowerOfTwo(t *testing.T) {
	assert.Equal(t, 1, nextPowerOfTwo(0))
	assert.Equal(t, 1, nextPowerOfTwo(1))
	assert.Equal(t, 2, nextPowerOfTwo(2))
	assert.Equal(t, 1024, nextPowerOfTwo(1000))
	assert.Equal(t, 1024, nextPowerOfTwo(1024))
}
