package worker

import (
	"fmt"
	"math"
	"math/cmplx"
	"time"

	"github.com/auroraframe/screensaver/internal/logx"
	"github.com/auroraframe/screensaver/internal/workermsg"
)

// fftConfig mirrors FFTConfig from original_source/core/process/workers/fft_worker.py,
// preserving every constant that the visualizer's output fidelity
// depends on.
type fftConfig struct {
	barCount              int
	ghostEnabled          bool
	ghostDecay            float64
	decayRate             float64
	attackSpeed           float64
	minFloor              float64
	maxFloor              float64
	dynamicFloorRatio     float64
	floorMidWeight        float64
	useCurvedProfile      bool
	profileTemplate       []float64
	curvedProfileTemplate []float64
	smoothKernel          []float64
}

func defaultFFTConfig() fftConfig {
	return fftConfig{
		barCount:          16,
		ghostEnabled:      true,
		ghostDecay:        0.85,
		decayRate:         0.35,
		attackSpeed:       0.85,
		minFloor:          0.12,
		maxFloor:          4.0,
		dynamicFloorRatio: 0.462,
		floorMidWeight:    0.18,
		useCurvedProfile:  false,
		profileTemplate: []float64{
			0.10, 0.15, 0.25, 0.50, 1.0, 0.45, 0.25, 0.08, 0.25, 0.45, 1.0, 0.50, 0.25, 0.15, 0.10,
		},
		curvedProfileTemplate: []float64{
			1.0, 0.72, 0.50, 0.38, 0.28, 0.58, 0.40, 0.22, 0.40, 0.58, 0.28, 0.38, 0.50, 0.72, 1.0,
		},
		smoothKernel: []float64{0.25, 0.5, 0.25},
	}
}

// fftState is the per-connection smoothing state carried across frames.
type fftState struct {
	bars         []float64
	peaks        []float64
	barHistory   []float64
	rawBassAvg   float64
	lastFrameAt  time.Time
	bandCacheN   int
	bandCacheK   int
	bandEdges    []int
}

func newFFTState(bars int) fftState {
	return fftState{
		bars:       make([]float64, bars),
		peaks:      make([]float64, bars),
		barHistory: make([]float64, bars),
		rawBassAvg: 2.1,
	}
}

// FFTHandler implements Handler for the FFT worker: FftConfig and
// FftFrame, grounded on original_source/core/process/workers/fft_worker.py.
// The example corpus carries no FFT/DSP library (checked gonum, dsp,
// go-dsp, etc. in every go.mod); the transform itself is a hand-rolled
// recursive radix-2 Cooley-Tukey FFT with zero-padding to the next
// power of two, a stdlib-only component justified in DESIGN.md.
type FFTHandler struct {
	log    *logx.Logger
	cfg    fftConfig
	state  fftState
	frames uint64
}

// NewFFTHandler constructs an FFTHandler with the canonical defaults.
func NewFFTHandler(log *logx.Logger) *FFTHandler {
	cfg := defaultFFTConfig()
	return &FFTHandler{log: log, cfg: cfg, state: newFFTState(cfg.barCount)}
}

func (h *FFTHandler) IsLongRunning(msg workermsg.Message) bool { return false }

func (h *FFTHandler) HandleMessage(msg workermsg.Message) (workermsg.Response, error) {
	switch msg.Type {
	case workermsg.MsgFFTConfig:
		return h.handleConfig(msg)
	case workermsg.MsgFFTFrame:
		return h.handleFrame(msg)
	default:
		return workermsg.Response{}, fmt.Errorf("fft worker: unknown message type %q", msg.Type)
	}
}

func (h *FFTHandler) handleConfig(msg workermsg.Message) (workermsg.Response, error) {
	pm := msg.PayloadMap()
	if v, ok := pm["bar_count"]; ok {
		h.cfg.barCount = intFromPayload(map[string]any{"bar_count": v}, "bar_count", h.cfg.barCount)
	}
	h.state = newFFTState(h.cfg.barCount)
	if v, ok := pm["use_curved_profile"].(bool); ok {
		h.cfg.useCurvedProfile = v
	}
	if v, ok := pm["ghost_enabled"].(bool); ok {
		h.cfg.ghostEnabled = v
	}
	for key, dst := range map[string]*float64{
		"ghost_decay": &h.cfg.ghostDecay, "decay_rate": &h.cfg.decayRate,
		"attack_speed": &h.cfg.attackSpeed, "min_floor": &h.cfg.minFloor,
		"max_floor": &h.cfg.maxFloor, "dynamic_floor_ratio": &h.cfg.dynamicFloorRatio,
		"floor_mid_weight": &h.cfg.floorMidWeight,
	} {
		if v, ok := pm[key].(float64); ok {
			*dst = v
		}
	}

	payload, err := workermsg.NewPayload(map[string]any{"bar_count": h.cfg.barCount})
	if err != nil {
		return workermsg.Response{}, err
	}
	return workermsg.Response{Type: workermsg.MsgFFTConfig, Success: true, Payload: payload}, nil
}

func (h *FFTHandler) handleFrame(msg workermsg.Message) (workermsg.Response, error) {
	pm := msg.PayloadMap()
	rawSamples, ok := pm["samples"].([]any)
	if !ok || len(rawSamples) == 0 {
		return h.barsResponse()
	}
	samples := make([]float64, len(rawSamples))
	for i, v := range rawSamples {
		if f, ok := v.(float64); ok {
			samples[i] = f
		}
	}
	sensitivity := 1.0
	if v, ok := pm["sensitivity"].(float64); ok {
		sensitivity = v
	}
	useDynamicFloor := true
	if v, ok := pm["use_dynamic_floor"].(bool); ok {
		useDynamicFloor = v
	}

	mag := magnitudeSpectrum(samples)
	if len(mag) == 0 {
		return h.barsResponse()
	}

	bars := h.fftToBars(mag, sensitivity, useDynamicFloor)
	h.applySmoothing(bars)
	if h.cfg.ghostEnabled {
		h.updatePeaks()
	}
	h.frames++

	payload, err := workermsg.NewPayload(map[string]any{
		"bars":        floatsToAny(h.state.bars),
		"peaks":       floatsToAny(h.state.peaks),
		"frame_count": h.frames,
	})
	if err != nil {
		return workermsg.Response{}, err
	}
	return workermsg.Response{Type: workermsg.MsgFFTBars, Success: true, Payload: payload}, nil
}

func (h *FFTHandler) barsResponse() (workermsg.Response, error) {
	payload, err := workermsg.NewPayload(map[string]any{
		"bars": floatsToAny(h.state.bars), "peaks": floatsToAny(h.state.peaks),
	})
	if err != nil {
		return workermsg.Response{}, err
	}
	return workermsg.Response{Type: workermsg.MsgFFTBars, Success: true, Payload: payload}, nil
}

// magnitudeSpectrum computes the real FFT of samples (zero-padded to
// the next power of two), discards the DC bin, and returns magnitudes.
func magnitudeSpectrum(samples []float64) []float64 {
	n := nextPowerOfTwo(len(samples))
	if n < 2 {
		return nil
	}
	padded := make([]complex128, n)
	for i, s := range samples {
		padded[i] = complex(s, 0)
	}
	spectrum := fft(padded)
	half := n/2 + 1
	if half <= 1 {
		return nil
	}
	mag := make([]float64, half-1)
	for i := 1; i < half; i++ {
		mag[i-1] = cmplx.Abs(spectrum[i])
	}
	return mag
}

func nextPowerOfTwo(n int) int {
	if n <= 1 {
		return 1
	}
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// fft is an iterative-by-recursion radix-2 Cooley-Tukey transform.
// len(x) must be a power of two.
func fft(x []complex128) []complex128 {
	n := len(x)
	if n <= 1 {
		return x
	}
	even := make([]complex128, n/2)
	odd := make([]complex128, n/2)
	for i := 0; i < n/2; i++ {
		even[i] = x[2*i]
		odd[i] = x[2*i+1]
	}
	even = fft(even)
	odd = fft(odd)

	out := make([]complex128, n)
	for k := 0; k < n/2; k++ {
		twiddle := cmplx.Exp(complex(0, -2*math.Pi*float64(k)/float64(n))) * odd[k]
		out[k] = even[k] + twiddle
		out[k+n/2] = even[k] - twiddle
	}
	return out
}

// fftToBars ports FFTWorker._fft_to_bars exactly: log1p+pow(1.2)
// normalization, [0.25,0.5,0.25] smoothing, log-spaced band RMS,
// dynamic noise floor, and the center-out profile combine.
func (h *FFTHandler) fftToBars(mag []float64, sensitivity float64, useDynamicFloor bool) []float64 {
	bands := h.cfg.barCount
	n := len(mag)

	resolutionBoost := math.Max(0.5, math.Min(3.0, 1024.0/math.Max(256.0, float64(n))))

	work := make([]float64, n)
	for i, m := range mag {
		work[i] = math.Pow(math.Log1p(m), 1.2)
	}
	if n > 4 {
		work = convolveSame(work, h.cfg.smoothKernel)
	}

	if h.state.bandCacheN != n || h.state.bandCacheK != bands {
		h.state.bandEdges = logSpacedEdges(1, n, bands+1)
		h.state.bandCacheN = n
		h.state.bandCacheK = bands
	}
	edges := h.state.bandEdges

	freqValues := make([]float64, bands)
	for b := 0; b < bands; b++ {
		start, end := edges[b], edges[b+1]
		if end <= start {
			end = start + 1
		}
		if start < n && end <= n && end > start {
			freqValues[b] = rms(work[start:end])
		}
	}

	var rawBass, rawMid, rawTreble float64
	if bands >= 4 {
		rawBass = mean(freqValues[:4])
	} else if len(freqValues) > 0 {
		rawBass = freqValues[0]
	}
	if bands >= 10 {
		rawMid = mean(freqValues[4:10])
	} else {
		rawMid = rawBass * 0.5
	}
	if bands > 10 {
		rawTreble = mean(freqValues[10:])
	} else {
		rawTreble = rawBass * 0.2
	}

	noiseFloorBase := math.Max(0.8, 1.5/math.Pow(resolutionBoost, 0.35))
	expansionBase := 3.6 * math.Pow(resolutionBoost, 0.4)

	sensitivity = math.Max(0.25, math.Min(2.5, sensitivity))
	baseNoiseFloor := math.Max(h.cfg.minFloor, math.Min(h.cfg.maxFloor, noiseFloorBase/sensitivity))
	expansion := expansionBase * math.Pow(sensitivity, 0.35)

	noiseFloor := baseNoiseFloor
	if useDynamicFloor {
		avg := h.state.rawBassAvg
		floorSignal := rawBass*(1.0-h.cfg.floorMidWeight) + rawMid*h.cfg.floorMidWeight
		alpha := 0.4
		if floorSignal >= avg {
			alpha = 0.15
		}
		avg = (1.0-alpha)*avg + alpha*floorSignal
		h.state.rawBassAvg = avg

		dynCandidate := math.Max(h.cfg.minFloor, math.Min(h.cfg.maxFloor, avg*h.cfg.dynamicFloorRatio))
		noiseFloor = math.Max(h.cfg.minFloor, math.Min(baseNoiseFloor, dynCandidate))
	}

	bassEnergy := math.Max(0.0, (rawBass-noiseFloor)*expansion)
	midEnergy := math.Max(0.0, (rawMid-noiseFloor*0.4)*expansion)
	trebleEnergy := math.Max(0.0, (rawTreble-noiseFloor*0.2)*expansion)

	overallEnergy := bassEnergy*0.9 + midEnergy*0.6 + trebleEnergy*0.35
	overallEnergy = math.Max(0.0, math.Min(1.8, overallEnergy))

	center := bands / 2
	half := bands / 2
	profile := h.profileShape(bands, center, half)

	bars := make([]float64, bands)
	for i := 0; i < bands; i++ {
		offset := i - center
		if offset < 0 {
			offset = -offset
		}

		var base float64
		if h.cfg.useCurvedProfile {
			frac := float64(offset) / math.Max(1.0, float64(half))
			cp := func(t float64) float64 { return math.Cos(math.Pi * t) }
			clampT := func(t float64) float64 { return math.Min(1.0, math.Max(-1.0, t)) }
			wBass := math.Max(0.0, 0.5*(1.0+cp(clampT((frac-0.80)/0.25))))
			wVocal := math.Max(0.0, 0.5*(1.0+cp(clampT((frac-0.42)/0.22))))
			wCenter := math.Max(0.0, 0.5*(1.0+cp(clampT(frac/0.25))))
			wTotal := wBass + wVocal + wCenter + 0.001
			eBass := bassEnergy*0.78 + midEnergy*0.04 + trebleEnergy*0.04
			eVocal := bassEnergy*0.05 + midEnergy*0.82 + trebleEnergy*0.08
			eCenter := bassEnergy*0.05 + midEnergy*0.18 + trebleEnergy*0.08
			zoneEnergy := (wBass*eBass + wVocal*eVocal + wCenter*eCenter) / wTotal
			base = profile[i] * zoneEnergy
		} else {
			base = profile[i] * overallEnergy
			switch {
			case offset == 3:
				base = base*1.05 + bassEnergy*0.15
			case offset == 4:
				base = base * 0.82
			}
			if offset == 0 {
				vocalDrive := midEnergy * 4.0
				base = vocalDrive*0.90 + base*0.10
			}
			if offset == 1 {
				base = base*0.52 + midEnergy*0.22
			}
			if offset == 2 {
				base = base*0.58 + bassEnergy*0.12
			}
			if offset >= 5 {
				base = base*0.65 + trebleEnergy*0.4*float64(offset-4)
			}
		}
		bars[i] = math.Max(0.0, math.Min(1.0, base))
	}
	return bars
}

func (h *FFTHandler) profileShape(bands, center, half int) []float64 {
	if h.cfg.useCurvedProfile {
		shape := make([]float64, bands)
		for i := 0; i < bands; i++ {
			frac := math.Abs(float64(i-center)) / math.Max(1.0, float64(half))
			wave := math.Sin(frac*math.Pi*1.5 + math.Pi*0.5)
			s := wave*0.35 + 0.50
			edgeBoost := math.Exp(-((frac-1.0)*(frac-1.0))/0.08) * 0.20
			s += edgeBoost
			shape[i] = math.Max(s, 0.12)
		}
		return shape
	}
	return resampleTemplate(h.cfg.profileTemplate, bands)
}

func resampleTemplate(template []float64, bands int) []float64 {
	if bands == len(template) {
		out := make([]float64, bands)
		copy(out, template)
		return out
	}
	out := make([]float64, bands)
	for i := 0; i < bands; i++ {
		x := float64(i) / math.Max(1.0, float64(bands-1))
		out[i] = interp(template, x)
	}
	return out
}

func interp(template []float64, x float64) float64 {
	n := len(template)
	if n == 0 {
		return 0
	}
	if n == 1 {
		return template[0]
	}
	pos := x * float64(n-1)
	i0 := int(math.Floor(pos))
	if i0 < 0 {
		i0 = 0
	}
	if i0 >= n-1 {
		return template[n-1]
	}
	frac := pos - float64(i0)
	return template[i0]*(1-frac) + template[i0+1]*frac
}

// applySmoothing ports FFTWorker._apply_smoothing, including the >2s
// pause-reset behavior.
func (h *FFTHandler) applySmoothing(targetBars []float64) {
	now := time.Now()
	var dt float64
	if !h.state.lastFrameAt.IsZero() {
		dt = now.Sub(h.state.lastFrameAt).Seconds()
	}
	h.state.lastFrameAt = now

	if dt > 2.0 {
		for i := range h.state.barHistory {
			h.state.barHistory[i] = 0
		}
	}

	n := len(targetBars)
	if n > len(h.state.bars) {
		n = len(h.state.bars)
	}
	for i := 0; i < n; i++ {
		target := targetBars[i]
		current := 0.0
		if i < len(h.state.barHistory) {
			current = h.state.barHistory[i]
		}

		var next float64
		if target > current {
			next = current + (target-current)*h.cfg.attackSpeed
		} else {
			next = current*h.cfg.decayRate + target*(1-h.cfg.decayRate)
		}
		next = math.Max(0.0, math.Min(1.0, next))
		h.state.bars[i] = next
		if i < len(h.state.barHistory) {
			h.state.barHistory[i] = next
		}
	}
}

func (h *FFTHandler) updatePeaks() {
	for i := range h.state.bars {
		barVal := h.state.bars[i]
		peakVal := 0.0
		if i < len(h.state.peaks) {
			peakVal = h.state.peaks[i]
		}
		if barVal > peakVal {
			h.state.peaks[i] = barVal
		} else {
			h.state.peaks[i] = peakVal * h.cfg.ghostDecay
		}
	}
}

func convolveSame(x, kernel []float64) []float64 {
	n := len(x)
	k := len(kernel)
	half := k / 2
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		var sum float64
		for j := 0; j < k; j++ {
			idx := i + j - half
			if idx < 0 || idx >= n {
				continue
			}
			sum += x[idx] * kernel[j]
		}
		out[i] = sum
	}
	return out
}

func logSpacedEdges(minIdx, maxIdx, count int) []int {
	edges := make([]int, count)
	logMin := math.Log10(float64(minIdx))
	logMax := math.Log10(float64(maxIdx))
	for i := 0; i < count; i++ {
		t := float64(i) / float64(count-1)
		edges[i] = int(math.Pow(10, logMin+t*(logMax-logMin)))
	}
	return edges
}

func rms(x []float64) float64 {
	if len(x) == 0 {
		return 0
	}
	var sum float64
	for _, v := range x {
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(x)))
}

func mean(x []float64) float64 {
	if len(x) == 0 {
		return 0
	}
	var sum float64
	for _, v := range x {
		sum += v
	}
	return sum / float64(len(x))
}

func floatsToAny(xs []float64) []any {
	out := make([]any, len(xs))
	for i, x := range xs {
		out[i] = x
	}
	return out
}
