package worker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auroraframe/screensaver/internal/logx"
	"github.com/auroraframe/screensaver/internal/workermsg"
)

func precomputeMsg(t *testing.T, transitionType string, params map[string]any) workermsg.Message {
	t.Helper()
	payload, err := workermsg.NewPayload(map[string]any{
		"transition_type": transitionType, "params": params,
	})
	require.NoError(t, err)
	return workermsg.Message{Type: workermsg.MsgTransitionPrecompute, Payload: payload}
}

func TestTransitionPrecomputeDiffuseIsDeterministic(t *testing.T) {
	h1 := NewTransitionHandler(logx.New("test"), 1920, 1080)
	h2 := NewTransitionHandler(logx.New("test"), 1920, 1080)

	params := map[string]any{"seed": float64(42), "block_size": float64(16)}
	resp1, err := h1.HandleMessage(precomputeMsg(t, "diffuse", params))
	require.NoError(t, err)
	resp2, err := h2.HandleMessage(precomputeMsg(t, "diffuse", params))
	require.NoError(t, err)

	pm1 := resp1.PayloadMap()
	pm2 := resp2.PayloadMap()
	assert.Equal(t, pm1["data"], pm2["data"])
}

func TestTransitionPrecomputeCacheHit(t *testing.T) {
	h := NewTransitionHandler(logx.New("test"), 1920, 1080)
	params := map[string]any{"seed": float64(7)}

	resp1, err := h.HandleMessage(precomputeMsg(t, "diffuse", params))
	require.NoError(t, err)
	assert.Equal(t, false, resp1.PayloadMap()["cached"])

	resp2, err := h.HandleMessage(precomputeMsg(t, "diffuse", params))
	require.NoError(t, err)
	assert.Equal(t, true, resp2.PayloadMap()["cached"])
	assert.Equal(t, resp1.PayloadMap()["cache_key"], resp2.PayloadMap()["cache_key"])
}

func TestTransitionPrecomputeUnknownTagIsNotPrecomputed(t *testing.T) {
	h := NewTransitionHandler(logx.New("test"), 1920, 1080)
	resp, err := h.HandleMessage(precomputeMsg(t, "fade", map[string]any{}))
	require.NoError(t, err)
	data := resp.PayloadMap()["data"].(map[string]any)
	assert.Equal(t, false, data["precomputed"])
}

func TestTransitionPrecomputeAllSupportedTags(t *testing.T) {
	h := NewTransitionHandler(logx.New("test"), 640, 480)
	for _, tag := range []string{"diffuse", "blockflip", "warp", "particle", "raindrops", "crumble"} {
		resp, err := h.HandleMessage(precomputeMsg(t, tag, map[string]any{"seed": float64(1)}))
		require.NoError(t, err)
		data := resp.PayloadMap()["data"].(map[string]any)
		assert.Equal(t, true, data["precomputed"], "tag %s", tag)
	}
}

func TestTransitionCacheKeyIgnoresParamOrder(t *testing.T) {
	k1 := cacheKeyFor("diffuse", map[string]any{"a": 1, "b": 2})
	k2 := cacheKeyFor("diffuse", map[string]any{"b": 2, "a": 1})
	assert.Equal(t, k1, k2)
}
