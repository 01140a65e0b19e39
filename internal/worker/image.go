package worker

import (
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"math"
	"os"
	"sync/atomic"

	"github.com/auroraframe/screensaver/internal/logx"
	"github.com/auroraframe/screensaver/internal/resource"
	"github.com/auroraframe/screensaver/internal/shm"
	"github.com/auroraframe/screensaver/internal/workermsg"
)

// shmThresholdBytes is the inline/shared-memory cutover point for
// decoded pixel payloads: results at or above this size ride a mapped
// region instead of the response's protobuf payload.
const shmThresholdBytes = 2 * 1024 * 1024

// ScaleMode selects how ImagePrescale fits source pixels into the
// requested target dimensions.
type ScaleMode string

const (
	ScaleFill   ScaleMode = "fill"
	ScaleFit    ScaleMode = "fit"
	ScaleShrink ScaleMode = "shrink"
)

// ImageHandler implements Handler for the image worker: ImageDecode and
// ImagePrescale, grounded on original_source/core/process/workers/image_worker.py.
// There is no image decode/resize library anywhere in the retrieved
// example corpus (checked every go.mod for gonum/draw/disintegration/
// nfnt/bild/resize); decode uses the standard image/jpeg, image/png
// and image/gif codecs and scaling is hand-rolled box/nearest
// resampling plus an unsharp-mask convolution, both unavoidably
// stdlib-only for the reasons recorded in DESIGN.md.
type ImageHandler struct {
	log       *logx.Logger
	shmSeq    uint32
	resources *resource.Manager
}

// NewImageHandler constructs an ImageHandler. Each image worker process
// owns a private ResourceManager purely for its own pixmap/image scratch
// buffer pooling across the requests it serves during its lifetime; it
// is not shared with the host process, which runs in a separate OS
// process reached only through the framed stdin/stdout protocol.
func NewImageHandler(log *logx.Logger) *ImageHandler {
	return &ImageHandler{log: log, resources: resource.New(log)}
}

// IsLongRunning reports that both image operations may exceed the
// heartbeat interval on large source files.
func (h *ImageHandler) IsLongRunning(msg workermsg.Message) bool {
	return msg.Type == workermsg.MsgImageDecode || msg.Type == workermsg.MsgImagePrescale
}

func (h *ImageHandler) HandleMessage(msg workermsg.Message) (workermsg.Response, error) {
	switch msg.Type {
	case workermsg.MsgImageDecode:
		return h.decode(msg)
	case workermsg.MsgImagePrescale:
		return h.prescale(msg)
	default:
		return workermsg.Response{}, fmt.Errorf("image worker: unknown message type %q", msg.Type)
	}
}

func (h *ImageHandler) decode(msg workermsg.Message) (workermsg.Response, error) {
	pm := msg.PayloadMap()
	path, _ := pm["path"].(string)
	if path == "" {
		return workermsg.Response{}, fmt.Errorf("image worker: decode requires a path")
	}

	img, format, err := decodeImageFile(path)
	if err != nil {
		return workermsg.Response{}, fmt.Errorf("image worker: decode %s: %w", path, err)
	}
	rgba := h.toRGBA(img)
	resp, err := h.respond(workermsg.MsgImageDecode, rgba, format, path)
	h.releaseImageBuf(rgba)
	return resp, err
}

func (h *ImageHandler) prescale(msg workermsg.Message) (workermsg.Response, error) {
	pm := msg.PayloadMap()
	path, _ := pm["path"].(string)
	if path == "" {
		return workermsg.Response{}, fmt.Errorf("image worker: prescale requires a path")
	}
	targetW := intFromPayload(pm, "target_w", 0)
	targetH := intFromPayload(pm, "target_h", 0)
	if targetW <= 0 || targetH <= 0 {
		return workermsg.Response{}, fmt.Errorf("image worker: prescale requires positive target_w/target_h")
	}
	mode := ScaleMode(stringFromPayload(pm, "mode", string(ScaleFit)))

	img, format, err := decodeImageFile(path)
	if err != nil {
		return workermsg.Response{}, fmt.Errorf("image worker: decode %s: %w", path, err)
	}
	src := h.toRGBA(img)
	scaled := h.scaleImage(src, targetW, targetH, mode)

	cacheKey := fmt.Sprintf("%s|scaled:%dx%d", path, targetW, targetH)
	resp, err := h.respond(workermsg.MsgImagePrescale, scaled, format, cacheKey)
	h.releasePixmapBuf(scaled)
	h.releaseImageBuf(src)
	return resp, err
}

// respond packages an RGBA frame as a Response, choosing shared memory
// over an inline payload once the pixel buffer crosses shmThresholdBytes.
func (h *ImageHandler) respond(msgType workermsg.MessageType, rgba *image.RGBA, format, cacheKey string) (workermsg.Response, error) {
	w, hgt := rgba.Rect.Dx(), rgba.Rect.Dy()
	pixels := rgba.Pix
	fields := map[string]any{
		"width":     w,
		"height":    hgt,
		"format":    "RGBA8",
		"cache_key": cacheKey,
	}

	if len(pixels) < shmThresholdBytes {
		fields["pixels_b64"] = base64.StdEncoding.EncodeToString(pixels)
		payload, err := workermsg.NewPayload(fields)
		if err != nil {
			return workermsg.Response{}, err
		}
		return workermsg.Response{Type: msgType, Success: true, Payload: payload}, nil
	}

	name, err := h.publishShm(pixels, uint32(w), uint32(hgt), uint32(rgba.Stride))
	if err != nil {
		return workermsg.Response{}, err
	}
	payload, err := workermsg.NewPayload(fields)
	if err != nil {
		return workermsg.Response{}, err
	}
	return workermsg.Response{Type: msgType, Success: true, Payload: payload, SharedMemoryName: name}, nil
}

func (h *ImageHandler) publishShm(pixels []byte, width, height, stride uint32) (string, error) {
	gen := atomic.AddUint32(&h.shmSeq, 1)
	path := shm.DefaultPath(fmt.Sprintf("image_%d", gen))
	header := workermsg.RGBAHeader{
		SharedMemoryHeader: workermsg.SharedMemoryHeader{
			Handle: path, SizeBytes: uint64(len(pixels)), ProducerPID: uint32(os.Getpid()),
			Generation: gen, Valid: true,
		},
		Width: width, Height: height, Stride: stride, Format: "RGBA8",
	}
	headerBytes, err := workermsg.EncodeRGBAHeader(header)
	if err != nil {
		return "", err
	}

	region, err := shm.Open(shm.Options{Path: path, Size: uint32(len(headerBytes)) + uint32(len(pixels)), Create: true})
	if err != nil {
		return "", err
	}
	defer region.Close()

	if err := region.WriteAt(0, headerBytes); err != nil {
		return "", err
	}
	if err := region.WriteAt(uint32(len(headerBytes)), pixels); err != nil {
		return "", err
	}
	return path, nil
}

func decodeImageFile(path string) (image.Image, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, "", err
	}
	defer f.Close()
	return image.Decode(f)
}

// acquireImageBuf pulls a decoded-surface scratch buffer from the
// resource manager's image bucket, returning nil on a miss so the caller
// falls back to a fresh allocation (acquire never allocates).
func (h *ImageHandler) acquireImageBuf(w, hgt int) *image.RGBA {
	buf, ok := h.resources.AcquireImage(w, hgt)
	if !ok {
		return nil
	}
	return &image.RGBA{Pix: buf, Stride: 4 * w, Rect: image.Rect(0, 0, w, hgt)}
}

func (h *ImageHandler) releaseImageBuf(img *image.RGBA) {
	w, hgt := img.Rect.Dx(), img.Rect.Dy()
	h.resources.ReleaseImage(w, hgt, img.Pix)
}

// acquirePixmapBuf pulls a presentable post-scale surface from the
// resource manager's pixmap bucket, returning nil on a miss.
func (h *ImageHandler) acquirePixmapBuf(w, hgt int) *image.RGBA {
	buf, ok := h.resources.AcquirePixmap(w, hgt)
	if !ok {
		return nil
	}
	return &image.RGBA{Pix: buf, Stride: 4 * w, Rect: image.Rect(0, 0, w, hgt)}
}

func (h *ImageHandler) releasePixmapBuf(img *image.RGBA) {
	w, hgt := img.Rect.Dx(), img.Rect.Dy()
	h.resources.ReleasePixmap(w, hgt, img.Pix)
}

func clearRGBA(img *image.RGBA) {
	for i := range img.Pix {
		img.Pix[i] = 0
	}
}

// toRGBA converts img to RGBA8, reusing a pooled decoded-surface buffer
// on a pool hit instead of always allocating.
func (h *ImageHandler) toRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok {
		return rgba
	}
	b := img.Bounds()
	rgba := h.acquireImageBuf(b.Dx(), b.Dy())
	if rgba == nil {
		rgba = image.NewRGBA(b)
	} else {
		rgba.Rect = b
	}
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			rgba.Set(x, y, img.At(x, y))
		}
	}
	return rgba
}

// scaleImage resizes src to fit within targetW x targetH under mode,
// applying an unsharp-mask pass when the effective downscale factor
// warrants it (spec: stronger below 0.5, mild below 1.0). The final
// presentable surface is drawn into a buffer reused from the pixmap
// bucket when one is available.
func (h *ImageHandler) scaleImage(src *image.RGBA, targetW, targetH int, mode ScaleMode) *image.RGBA {
	sw, sh := src.Rect.Dx(), src.Rect.Dy()
	if sw == 0 || sh == 0 {
		return image.NewRGBA(image.Rect(0, 0, targetW, targetH))
	}

	scaleX := float64(targetW) / float64(sw)
	scaleY := float64(targetH) / float64(sh)

	var drawW, drawH int
	var scale float64
	switch mode {
	case ScaleFill:
		scale = math.Max(scaleX, scaleY)
		drawW, drawH = int(float64(sw)*scale), int(float64(sh)*scale)
	case ScaleShrink:
		scale = math.Min(1.0, math.Min(scaleX, scaleY))
		drawW, drawH = int(float64(sw)*scale), int(float64(sh)*scale)
	default: // fit
		scale = math.Min(scaleX, scaleY)
		drawW, drawH = int(float64(sw)*scale), int(float64(sh)*scale)
	}
	if drawW < 1 {
		drawW = 1
	}
	if drawH < 1 {
		drawH = 1
	}

	resized := resample(src, drawW, drawH)
	if scale < 0.5 {
		resized = unsharpMask(resized, 0.35)
	} else if scale < 1.0 {
		resized = unsharpMask(resized, 0.15)
	}

	dst := h.acquirePixmapBuf(targetW, targetH)
	if dst != nil {
		clearRGBA(dst)
	}
	if mode == ScaleFill {
		return centerCrop(resized, targetW, targetH, dst)
	}
	return centerOnBlack(resized, targetW, targetH, dst)
}

// resample does box-filter downsampling (averaging the source pixels
// that map into each destination pixel) or nearest-neighbor upsampling,
// depending on direction, since no resize library exists in the
// example corpus to delegate this to.
func resample(src *image.RGBA, dstW, dstH int) *image.RGBA {
	sw, sh := src.Rect.Dx(), src.Rect.Dy()
	dst := image.NewRGBA(image.Rect(0, 0, dstW, dstH))

	if dstW >= sw && dstH >= sh {
		for y := 0; y < dstH; y++ {
			sy := y * sh / dstH
			for x := 0; x < dstW; x++ {
				sx := x * sw / dstW
				dst.Set(x, y, src.At(src.Rect.Min.X+sx, src.Rect.Min.Y+sy))
			}
		}
		return dst
	}

	for y := 0; y < dstH; y++ {
		y0 := y * sh / dstH
		y1 := (y + 1) * sh / dstH
		if y1 <= y0 {
			y1 = y0 + 1
		}
		for x := 0; x < dstW; x++ {
			x0 := x * sw / dstW
			x1 := (x + 1) * sw / dstW
			if x1 <= x0 {
				x1 = x0 + 1
			}
			var r, g, b, a, n uint32
			for sy := y0; sy < y1 && sy < sh; sy++ {
				for sx := x0; sx < x1 && sx < sw; sx++ {
					pr, pg, pb, pa := src.At(src.Rect.Min.X+sx, src.Rect.Min.Y+sy).RGBA()
					r += pr >> 8
					g += pg >> 8
					b += pb >> 8
					a += pa >> 8
					n++
				}
			}
			if n == 0 {
				n = 1
			}
			dst.SetRGBA(x, y, color.RGBA{uint8(r / n), uint8(g / n), uint8(b / n), uint8(a / n)})
		}
	}
	return dst
}

func unsharpMask(src *image.RGBA, amount float64) *image.RGBA {
	w, hgt := src.Rect.Dx(), src.Rect.Dy()
	dst := image.NewRGBA(image.Rect(0, 0, w, hgt))
	get := func(x, y int) (int, int, int) {
		if x < 0 {
			x = 0
		}
		if x >= w {
			x = w - 1
		}
		if y < 0 {
			y = 0
		}
		if y >= hgt {
			y = hgt - 1
		}
		r, g, b, _ := src.At(src.Rect.Min.X+x, src.Rect.Min.Y+y).RGBA()
		return int(r >> 8), int(g >> 8), int(b >> 8)
	}
	clamp := func(v float64) uint8 {
		if v < 0 {
			return 0
		}
		if v > 255 {
			return 255
		}
		return uint8(v)
	}
	for y := 0; y < hgt; y++ {
		for x := 0; x < w; x++ {
			cr, cg, cb := get(x, y)
			var sr, sg, sb int
			for _, d := range [][2]int{{-1, 0}, {1, 0}, {0, -1}, {0, 1}} {
				r, g, b := get(x+d[0], y+d[1])
				sr += r
				sg += g
				sb += b
			}
			_, _, _, a := src.At(src.Rect.Min.X+x, src.Rect.Min.Y+y).RGBA()
			rf := float64(cr) + amount*(float64(cr)*4-float64(sr))
			gf := float64(cg) + amount*(float64(cg)*4-float64(sg))
			bf := float64(cb) + amount*(float64(cb)*4-float64(sb))
			dst.SetRGBA(x, y, color.RGBA{clamp(rf), clamp(gf), clamp(bf), uint8(a >> 8)})
		}
	}
	return dst
}

// centerCrop draws the center w x h window of src into dst, allocating
// dst itself when the caller has no pooled buffer to reuse.
func centerCrop(src *image.RGBA, w, h int, dst *image.RGBA) *image.RGBA {
	sw, sh := src.Rect.Dx(), src.Rect.Dy()
	offX := (sw - w) / 2
	offY := (sh - h) / 2
	if dst == nil {
		dst = image.NewRGBA(image.Rect(0, 0, w, h))
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			sx, sy := x+offX, y+offY
			if sx < 0 || sy < 0 || sx >= sw || sy >= sh {
				continue
			}
			dst.Set(x, y, src.At(src.Rect.Min.X+sx, src.Rect.Min.Y+sy))
		}
	}
	return dst
}

// centerOnBlack draws src centered on a black w x h canvas, allocating
// dst itself when the caller has no pooled buffer to reuse.
func centerOnBlack(src *image.RGBA, w, h int, dst *image.RGBA) *image.RGBA {
	sw, sh := src.Rect.Dx(), src.Rect.Dy()
	if dst == nil {
		dst = image.NewRGBA(image.Rect(0, 0, w, h))
	}
	offX := (w - sw) / 2
	offY := (h - sh) / 2
	for y := 0; y < sh; y++ {
		for x := 0; x < sw; x++ {
			dst.Set(x+offX, y+offY, src.At(src.Rect.Min.X+x, src.Rect.Min.Y+y))
		}
	}
	return dst
}

func intFromPayload(m map[string]any, key string, fallback int) int {
	switch v := m[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	default:
		return fallback
	}
}

func stringFromPayload(m map[string]any, key, fallback string) string {
	if v, ok := m[key].(string); ok && v != "" {
		return v
	}
	return fallback
}
