package worker

import (
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auroraframe/screensaver/internal/logx"
	"github.com/auroraframe/screensaver/internal/workermsg"
)

func writeTestPNG(t *testing.T, w, h int) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{uint8(x % 256), uint8(y % 256), 128, 255})
		}
	}
	path := filepath.Join(t.TempDir(), "test.png")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
	return path
}

func TestImageDecodeReturnsDimensions(t *testing.T) {
	path := writeTestPNG(t, 64, 32)
	h := NewImageHandler(logx.New("test"))

	payload, err := workermsg.NewPayload(map[string]any{"path": path})
	require.NoError(t, err)
	resp, err := h.HandleMessage(workermsg.Message{Type: workermsg.MsgImageDecode, Payload: payload})
	require.NoError(t, err)
	assert.True(t, resp.Success)

	pm := resp.PayloadMap()
	assert.Equal(t, float64(64), pm["width"])
	assert.Equal(t, float64(32), pm["height"])
	assert.Equal(t, path, pm["cache_key"])
	assert.Contains(t, pm, "pixels_b64")
}

func TestImageDecodeMissingPathErrors(t *testing.T) {
	h := NewImageHandler(logx.New("test"))
	_, err := h.HandleMessage(workermsg.Message{Type: workermsg.MsgImageDecode})
	assert.Error(t, err)
}

func TestImagePrescaleFitCentersOnBlack(t *testing.T) {
	path := writeTestPNG(t, 100, 50)
	h := NewImageHandler(logx.New("test"))

	payload, err := workermsg.NewPayload(map[string]any{
		"path": path, "target_w": float64(200), "target_h": float64(200), "mode": "fit",
	})
	require.NoError(t, err)
	resp, err := h.HandleMessage(workermsg.Message{Type: workermsg.MsgImagePrescale, Payload: payload})
	require.NoError(t, err)
	assert.True(t, resp.Success)

	pm := resp.PayloadMap()
	assert.Equal(t, float64(200), pm["width"])
	assert.Equal(t, float64(200), pm["height"])
	assert.Equal(t, path+"|scaled:200x200", pm["cache_key"])
}

func TestImagePrescaleFillCrops(t *testing.T) {
	path := writeTestPNG(t, 100, 50)
	h := NewImageHandler(logx.New("test"))

	payload, err := workermsg.NewPayload(map[string]any{
		"path": path, "target_w": float64(60), "target_h": float64(60), "mode": "fill",
	})
	require.NoError(t, err)
	resp, err := h.HandleMessage(workermsg.Message{Type: workermsg.MsgImagePrescale, Payload: payload})
	require.NoError(t, err)
	pm := resp.PayloadMap()
	assert.Equal(t, float64(60), pm["width"])
	assert.Equal(t, float64(60), pm["height"])
}

func TestScaleImageShrinkNeverUpscales(t *testing.T) {
	h := NewImageHandler(logx.New("test"))
	src := image.NewRGBA(image.Rect(0, 0, 20, 20))
	for y := 0; y < 20; y++ {
		for x := 0; x < 20; x++ {
			src.SetRGBA(x, y, color.RGBA{255, 255, 255, 255})
		}
	}

	out := h.scaleImage(src, 200, 200, ScaleShrink)
	assert.Equal(t, 200, out.Rect.Dx())
	assert.Equal(t, 200, out.Rect.Dy())

	// Shrink mode never upscales: the opaque source content must still
	// cover only its original 20x20 footprint, centered on the black
	// 200x200 canvas, not stretched to fill it.
	opaque := 0
	for y := 0; y < 200; y++ {
		for x := 0; x < 200; x++ {
			_, _, _, a := out.At(x, y).RGBA()
			if a != 0 {
				opaque++
			}
		}
	}
	assert.LessOrEqual(t, opaque, 20*20, "shrink must not paint more than the unscaled source area")
}
