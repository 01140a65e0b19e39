package workermsg

import (
	"bufio"
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageRoundTrip(t *testing.T) {
	payload, err := NewPayload(map[string]any{"path": "/tmp/a.png", "width": 1920.0})
	require.NoError(t, err)

	m := Message{
		Type:          MsgImageDecode,
		SeqNo:         42,
		CorrelationID: "corr-1",
		Timestamp:     time.Unix(1700000000, 0),
		WorkerType:    WorkerImage,
		Payload:       payload,
	}

	var buf bytes.Buffer
	require.NoError(t, WriteMessage(&buf, m))

	got, err := ReadMessage(bufio.NewReader(&buf))
	require.NoError(t, err)

	assert.Equal(t, m.Type, got.Type)
	assert.Equal(t, m.SeqNo, got.SeqNo)
	assert.Equal(t, m.CorrelationID, got.CorrelationID)
	assert.Equal(t, m.Timestamp.Unix(), got.Timestamp.Unix())
	assert.Equal(t, m.WorkerType, got.WorkerType)
	assert.Equal(t, m.PayloadMap(), got.PayloadMap())
}

func TestResponseRoundTrip(t *testing.T) {
	payload, err := NewPayload(map[string]any{"bars": []any{0.1, 0.2, 0.3}})
	require.NoError(t, err)

	resp := Response{
		Type:             MsgFFTBars,
		SeqNo:            7,
		CorrelationID:    "corr-2",
		Success:          true,
		Timestamp:        time.Unix(1700000001, 0),
		Payload:          payload,
		SharedMemoryName: "srpss_img_deadbeef1234",
		ProcessingTimeMS: 12.5,
	}

	var buf bytes.Buffer
	require.NoError(t, WriteResponse(&buf, resp))

	got, err := ReadResponse(bufio.NewReader(&buf))
	require.NoError(t, err)

	assert.Equal(t, resp.Type, got.Type)
	assert.Equal(t, resp.SeqNo, got.SeqNo)
	assert.Equal(t, resp.CorrelationID, got.CorrelationID)
	assert.True(t, got.Success)
	assert.Equal(t, resp.SharedMemoryName, got.SharedMemoryName)
	assert.InDelta(t, resp.ProcessingTimeMS, got.ProcessingTimeMS, 1e-9)
	assert.Equal(t, resp.PayloadMap(), got.PayloadMap())
}

func TestResponseRoundTripError(t *testing.T) {
	resp := Response{
		Type:          MsgError,
		SeqNo:         1,
		CorrelationID: "corr-3",
		Success:       false,
		Timestamp:     time.Unix(1700000002, 0),
		Error:         "decode failed: bad magic bytes",
		ErrorCode:     13,
	}

	var buf bytes.Buffer
	require.NoError(t, WriteResponse(&buf, resp))

	got, err := ReadResponse(bufio.NewReader(&buf))
	require.NoError(t, err)

	assert.False(t, got.Success)
	assert.Equal(t, resp.Error, got.Error)
	assert.Equal(t, resp.ErrorCode, got.ErrorCode)
	assert.Nil(t, got.Payload)
}

func TestMultipleFramesOnOneStream(t *testing.T) {
	var buf bytes.Buffer
	for i := uint64(0); i < 3; i++ {
		require.NoError(t, WriteMessage(&buf, Message{
			Type:          MsgHeartbeat,
			SeqNo:         i,
			CorrelationID: "hb",
			Timestamp:     time.Now(),
			WorkerType:    WorkerFFT,
		}))
	}

	r := bufio.NewReader(&buf)
	for i := uint64(0); i < 3; i++ {
		m, err := ReadMessage(r)
		require.NoError(t, err)
		assert.Equal(t, i, m.SeqNo)
	}
}

func TestValidateSizeRejectsOversizedPayload(t *testing.T) {
	big := make([]byte, MaxFFTPayload+1)
	payload, err := NewPayload(map[string]any{"samples": string(big)})
	require.NoError(t, err)
	m := &Message{Type: MsgFFTFrame, WorkerType: WorkerFFT, Payload: payload}
	assert.False(t, m.ValidateSize())
}
