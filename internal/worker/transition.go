package worker

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"strings"
	"sync"

	"github.com/auroraframe/screensaver/internal/logx"
	"github.com/auroraframe/screensaver/internal/workermsg"
)

// transitionCacheCap bounds the per-worker precompute cache; the
// original keeps an unbounded dict for the life of the process, but an
// idiomatic Go port caps it and evicts oldest-first rather than
// growing without bound across a long-running screensaver session.
const transitionCacheCap = 256

type transitionResult struct {
	transitionType string
	cacheKey       string
	data           map[string]any
}

// TransitionHandler implements Handler for the transition worker:
// TransitionPrecompute, grounded on
// original_source/core/process/workers/transition_worker.py.
type TransitionHandler struct {
	log *logx.Logger

	mu      sync.Mutex
	cache   map[string]transitionResult
	order   []string
	count   uint64
	screenW int
	screenH int
}

// NewTransitionHandler constructs a TransitionHandler for a given
// default screen size (used when a request omits width/height).
func NewTransitionHandler(log *logx.Logger, screenW, screenH int) *TransitionHandler {
	return &TransitionHandler{
		log: log, cache: make(map[string]transitionResult), screenW: screenW, screenH: screenH,
	}
}

func (h *TransitionHandler) IsLongRunning(msg workermsg.Message) bool {
	return msg.Type == workermsg.MsgTransitionPrecompute
}

func (h *TransitionHandler) HandleMessage(msg workermsg.Message) (workermsg.Response, error) {
	switch msg.Type {
	case workermsg.MsgTransitionPrecompute:
		return h.precompute(msg)
	case workermsg.MsgConfigUpdate:
		return h.configUpdate(msg)
	default:
		return workermsg.Response{}, fmt.Errorf("transition worker: unknown message type %q", msg.Type)
	}
}

func (h *TransitionHandler) configUpdate(msg workermsg.Message) (workermsg.Response, error) {
	pm := msg.PayloadMap()
	h.mu.Lock()
	if v, ok := pm["screen_width"]; ok {
		h.screenW = intFromPayload(map[string]any{"w": v}, "w", h.screenW)
	}
	if v, ok := pm["screen_height"]; ok {
		h.screenH = intFromPayload(map[string]any{"h": v}, "h", h.screenH)
	}
	clear := true
	if v, ok := pm["clear_cache"].(bool); ok {
		clear = v
	}
	if clear {
		h.cache = make(map[string]transitionResult)
		h.order = nil
	}
	h.mu.Unlock()
	return workermsg.Response{Type: workermsg.MsgConfigUpdate, Success: true}, nil
}

func (h *TransitionHandler) precompute(msg workermsg.Message) (workermsg.Response, error) {
	pm := msg.PayloadMap()
	transitionType, _ := pm["transition_type"].(string)
	if transitionType == "" {
		transitionType = "diffuse"
	}
	params, _ := pm["params"].(map[string]any)
	if params == nil {
		params = map[string]any{}
	}
	useCache := true
	if v, ok := pm["use_cache"].(bool); ok {
		useCache = v
	}

	cacheKey := cacheKeyFor(transitionType, params)

	h.mu.Lock()
	if useCache {
		if cached, ok := h.cache[cacheKey]; ok {
			h.mu.Unlock()
			return h.responsePayload(cached, true)
		}
	}
	h.mu.Unlock()

	data := h.runPrecompute(transitionType, params)
	result := transitionResult{transitionType: transitionType, cacheKey: cacheKey, data: data}

	h.mu.Lock()
	h.storeLocked(cacheKey, result)
	h.count++
	h.mu.Unlock()

	return h.responsePayload(result, false)
}

func (h *TransitionHandler) storeLocked(key string, result transitionResult) {
	if _, exists := h.cache[key]; !exists {
		h.order = append(h.order, key)
		if len(h.order) > transitionCacheCap {
			oldest := h.order[0]
			h.order = h.order[1:]
			delete(h.cache, oldest)
		}
	}
	h.cache[key] = result
}

func (h *TransitionHandler) responsePayload(result transitionResult, cached bool) (workermsg.Response, error) {
	payload, err := workermsg.NewPayload(map[string]any{
		"transition_type": result.transitionType,
		"cache_key":       result.cacheKey,
		"data":            result.data,
		"cached":          cached,
	})
	if err != nil {
		return workermsg.Response{}, err
	}
	return workermsg.Response{Type: workermsg.MsgTransitionResult, Success: true, Payload: payload}, nil
}

func cacheKeyFor(transitionType string, params map[string]any) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(transitionType)
	b.WriteByte(':')
	for _, k := range keys {
		fmt.Fprintf(&b, "%s=%v,", k, params[k])
	}
	sum := md5.Sum([]byte(b.String()))
	return hex.EncodeToString(sum[:])[:16]
}

func (h *TransitionHandler) runPrecompute(transitionType string, params map[string]any) map[string]any {
	seed := int64(0)
	seeded := false
	if v, ok := params["seed"]; ok {
		seed = int64(intFromPayload(map[string]any{"seed": v}, "seed", 0))
		seeded = true
	}
	rng := rand.New(rand.NewSource(seed))
	if !seeded {
		rng = rand.New(rand.NewSource(1))
	}

	w := h.paramInt(params, "screen_width", h.screenW)
	hgt := h.paramInt(params, "screen_height", h.screenH)

	switch strings.ToLower(transitionType) {
	case "diffuse":
		return precomputeDiffuse(rng, params, w, hgt)
	case "blockflip", "blockspin", "blockpuzzle":
		return precomputeBlocks(rng, params, w, hgt)
	case "warp":
		return precomputeWarp(params, w, hgt)
	case "particle":
		return precomputeParticles(rng, params, w, hgt)
	case "raindrops":
		return precomputeRaindrops(rng, params, w, hgt)
	case "crumble":
		return precomputeCrumble(rng, params, w, hgt)
	default:
		return map[string]any{"precomputed": false}
	}
}

func (h *TransitionHandler) paramInt(params map[string]any, key string, fallback int) int {
	if v, ok := params[key]; ok {
		return intFromPayload(map[string]any{key: v}, key, fallback)
	}
	return fallback
}

func precomputeDiffuse(rng *rand.Rand, params map[string]any, width, height int) map[string]any {
	blockSize := intFromPayload(params, "block_size", 16)
	if blockSize <= 0 {
		blockSize = 16
	}
	cols := (width + blockSize - 1) / blockSize
	rows := (height + blockSize - 1) / blockSize
	total := cols * rows

	order := rng.Perm(total)
	rank := make([]int, total)
	for pos, idx := range order {
		rank[idx] = pos
	}

	blocks := make([]any, total)
	for idx := 0; idx < total; idx++ {
		row, col := idx/cols, idx%cols
		x, y := col*blockSize, row*blockSize
		w := minInt(blockSize, width-x)
		ht := minInt(blockSize, height-y)
		blocks[idx] = map[string]any{"x": x, "y": y, "w": w, "h": ht, "order": rank[idx]}
	}

	return map[string]any{
		"precomputed":       true,
		"block_size":        blockSize,
		"cols":              cols,
		"rows":              rows,
		"total_blocks":      total,
		"dissolution_order": intsToAny(order),
		"blocks":            blocks,
	}
}

func precomputeBlocks(rng *rand.Rand, params map[string]any, width, height int) map[string]any {
	cols := intFromPayload(params, "cols", 8)
	rows := intFromPayload(params, "rows", 6)
	if cols <= 0 {
		cols = 8
	}
	if rows <= 0 {
		rows = 6
	}
	blockW, blockH := width/cols, height/rows
	total := cols * rows

	order := rng.Perm(total)
	rank := make([]int, total)
	for pos, idx := range order {
		rank[idx] = pos
	}

	axes := []string{"x", "y"}
	cx, cy := cols/2, rows/2
	blocks := make([]any, total)
	for idx := 0; idx < total; idx++ {
		row, col := idx/cols, idx%cols
		dist := absInt(col-cx) + absInt(row-cy)
		blocks[idx] = map[string]any{
			"x": col * blockW, "y": row * blockH, "w": blockW, "h": blockH,
			"order": rank[idx], "distance": dist, "flip_axis": axes[rng.Intn(2)],
		}
	}

	return map[string]any{
		"precomputed":  true,
		"cols":         cols,
		"rows":         rows,
		"block_w":      blockW,
		"block_h":      blockH,
		"total_blocks": total,
		"flip_order":   intsToAny(order),
		"blocks":       blocks,
	}
}

func precomputeWarp(params map[string]any, _, _ int) map[string]any {
	gridSize := intFromPayload(params, "grid_size", 32)
	if gridSize <= 0 {
		gridSize = 32
	}
	denom := float64(gridSize - 1)
	if denom <= 0 {
		denom = 1
	}
	u := make([][]float64, gridSize)
	v := make([][]float64, gridSize)
	dist := make([][]float64, gridSize)
	angle := make([][]float64, gridSize)
	for j := 0; j < gridSize; j++ {
		u[j] = make([]float64, gridSize)
		v[j] = make([]float64, gridSize)
		dist[j] = make([]float64, gridSize)
		angle[j] = make([]float64, gridSize)
		vv := float64(j) / denom
		for i := 0; i < gridSize; i++ {
			uu := float64(i) / denom
			u[j][i] = uu
			v[j][i] = vv
			dx, dy := uu-0.5, vv-0.5
			dist[j][i] = math.Sqrt(dx*dx + dy*dy)
			angle[j][i] = math.Atan2(dy, dx)
		}
	}
	return map[string]any{
		"precomputed": true,
		"grid_size":   gridSize,
		"u_coords":    matrixToAny(u),
		"v_coords":    matrixToAny(v),
		"center_dist": matrixToAny(dist),
		"angle":       matrixToAny(angle),
	}
}

func precomputeParticles(rng *rand.Rand, params map[string]any, width, height int) map[string]any {
	count := intFromPayload(params, "particle_count", 1000)
	particles := make([]any, count)
	for i := 0; i < count; i++ {
		particles[i] = map[string]any{
			"x": rng.Float64() * float64(width), "y": rng.Float64() * float64(height),
			"vx": rng.Float64()*4 - 2, "vy": rng.Float64()*4 - 2,
			"size": 2 + rng.Float64()*6, "alpha": 0.3 + rng.Float64()*0.7,
			"rotation": rng.Float64() * 360,
		}
	}
	return map[string]any{"precomputed": true, "particle_count": count, "particles": particles}
}

func precomputeRaindrops(rng *rand.Rand, params map[string]any, width, height int) map[string]any {
	count := intFromPayload(params, "drop_count", 50)
	if count <= 0 {
		count = 50
	}
	drops := make([]any, count)
	for i := 0; i < count; i++ {
		delay := float64(i) / float64(count) * 0.6
		drops[i] = map[string]any{
			"x": rng.Float64() * float64(width), "y": rng.Float64() * float64(height),
			"radius": 20 + rng.Float64()*80, "delay": delay, "duration": 0.3 + rng.Float64()*0.3,
		}
	}
	return map[string]any{"precomputed": true, "drop_count": count, "drops": drops}
}

func precomputeCrumble(rng *rand.Rand, params map[string]any, width, height int) map[string]any {
	cols := intFromPayload(params, "cols", 12)
	rows := intFromPayload(params, "rows", 8)
	if cols <= 0 {
		cols = 12
	}
	if rows <= 0 {
		rows = 8
	}
	fragW := float64(width) / float64(cols)
	fragH := float64(height) / float64(rows)

	fragments := make([]any, 0, cols*rows)
	for row := 0; row < rows; row++ {
		for col := 0; col < cols; col++ {
			fragments = append(fragments, map[string]any{
				"x": float64(col) * fragW, "y": float64(row) * fragH, "w": fragW, "h": fragH,
				"fall_delay": rng.Float64() * 0.5, "fall_rotation": rng.Float64()*360 - 180,
				"fall_offset_x": rng.Float64()*100 - 50,
			})
		}
	}
	return map[string]any{"precomputed": true, "cols": cols, "rows": rows, "fragments": fragments}
}

func intsToAny(xs []int) []any {
	out := make([]any, len(xs))
	for i, x := range xs {
		out[i] = x
	}
	return out
}

func matrixToAny(m [][]float64) []any {
	out := make([]any, len(m))
	for i, row := range m {
		out[i] = floatsToAny(row)
	}
	return out
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func absInt(a int) int {
	if a < 0 {
		return -a
	}
	return a
}
