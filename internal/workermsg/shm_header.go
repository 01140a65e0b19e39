package workermsg

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"
)

// baseHeaderSize is the encoded size of SharedMemoryHeader: a 64-byte
// fixed handle field, uint64 size, uint32 pid, uint32 generation,
// float64 unix timestamp, and a single valid byte.
const baseHeaderSize = 64 + 8 + 4 + 4 + 8 + 1

// SharedMemoryHeader is the common prefix written at the start of every
// shared-memory region a worker hands back to the host in place of an
// inline payload. Generation is a monotonic per-handle counter the
// reader uses to detect a stale buffer it raced ahead of a producer on.
type SharedMemoryHeader struct {
	Handle      string
	SizeBytes   uint64
	ProducerPID uint32
	Generation  uint32
	Timestamp   time.Time
	Valid       bool
}

func (h SharedMemoryHeader) encode(buf *bytes.Buffer) error {
	var handleBytes [64]byte
	copy(handleBytes[:], h.Handle)
	if err := binary.Write(buf, binary.LittleEndian, handleBytes); err != nil {
		return err
	}
	if err := binary.Write(buf, binary.LittleEndian, h.SizeBytes); err != nil {
		return err
	}
	if err := binary.Write(buf, binary.LittleEndian, h.ProducerPID); err != nil {
		return err
	}
	if err := binary.Write(buf, binary.LittleEndian, h.Generation); err != nil {
		return err
	}
	if err := binary.Write(buf, binary.LittleEndian, float64(h.Timestamp.UnixNano())/1e9); err != nil {
		return err
	}
	validByte := byte(0)
	if h.Valid {
		validByte = 1
	}
	return binary.Write(buf, binary.LittleEndian, validByte)
}

func decodeBaseHeader(data []byte) (SharedMemoryHeader, error) {
	if len(data) < baseHeaderSize {
		return SharedMemoryHeader{}, fmt.Errorf("workermsg: short buffer for shared memory header: got %d want %d", len(data), baseHeaderSize)
	}
	r := bytes.NewReader(data[:baseHeaderSize])
	var handleBytes [64]byte
	if err := binary.Read(r, binary.LittleEndian, &handleBytes); err != nil {
		return SharedMemoryHeader{}, err
	}
	var size uint64
	var pid, gen uint32
	var ts float64
	var valid byte
	for _, err := range []error{
		binary.Read(r, binary.LittleEndian, &size),
		binary.Read(r, binary.LittleEndian, &pid),
		binary.Read(r, binary.LittleEndian, &gen),
		binary.Read(r, binary.LittleEndian, &ts),
		binary.Read(r, binary.LittleEndian, &valid),
	} {
		if err != nil {
			return SharedMemoryHeader{}, err
		}
	}
	handle := string(bytes.TrimRight(handleBytes[:], "\x00"))
	return SharedMemoryHeader{
		Handle:      handle,
		SizeBytes:   size,
		ProducerPID: pid,
		Generation:  gen,
		Timestamp:   time.Unix(0, int64(ts*1e9)),
		Valid:       valid == 1,
	}, nil
}

// RGBAHeader extends SharedMemoryHeader with the metadata an Image
// worker needs to interpret a decoded frame buffer.
type RGBAHeader struct {
	SharedMemoryHeader
	Width, Height, Stride uint32
	Format                string // e.g. "RGBA8"
}

const rgbaExtraSize = 4 + 4 + 4 + 16
const RGBAHeaderSize = baseHeaderSize + rgbaExtraSize

// EncodeRGBAHeader serializes h to its fixed little-endian wire layout.
func EncodeRGBAHeader(h RGBAHeader) ([]byte, error) {
	var buf bytes.Buffer
	if err := h.SharedMemoryHeader.encode(&buf); err != nil {
		return nil, err
	}
	var formatBytes [16]byte
	copy(formatBytes[:], h.Format)
	for _, v := range []any{h.Width, h.Height, h.Stride, formatBytes} {
		if err := binary.Write(&buf, binary.LittleEndian, v); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// DecodeRGBAHeader parses a buffer previously produced by
// EncodeRGBAHeader.
func DecodeRGBAHeader(data []byte) (RGBAHeader, error) {
	base, err := decodeBaseHeader(data)
	if err != nil {
		return RGBAHeader{}, err
	}
	if len(data) < RGBAHeaderSize {
		return RGBAHeader{}, fmt.Errorf("workermsg: short buffer for rgba header: got %d want %d", len(data), RGBAHeaderSize)
	}
	r := bytes.NewReader(data[baseHeaderSize:RGBAHeaderSize])
	var width, height, stride uint32
	var formatBytes [16]byte
	for _, err := range []error{
		binary.Read(r, binary.LittleEndian, &width),
		binary.Read(r, binary.LittleEndian, &height),
		binary.Read(r, binary.LittleEndian, &stride),
		binary.Read(r, binary.LittleEndian, &formatBytes),
	} {
		if err != nil {
			return RGBAHeader{}, err
		}
	}
	return RGBAHeader{
		SharedMemoryHeader: base,
		Width:              width,
		Height:             height,
		Stride:             stride,
		Format:             string(bytes.TrimRight(formatBytes[:], "\x00")),
	}, nil
}

// FFTHeader extends SharedMemoryHeader with the metadata the FFT worker
// attaches to a published spectrum buffer.
type FFTHeader struct {
	SharedMemoryHeader
	BinsLen      uint32
	WindowSize   uint32
	SampleRate   uint32
	SmoothingTau float64
	DecayRate    float64
}

const fftExtraSize = 4 + 4 + 4 + 8 + 8
const FFTHeaderSize = baseHeaderSize + fftExtraSize

// EncodeFFTHeader serializes h to its fixed little-endian wire layout.
func EncodeFFTHeader(h FFTHeader) ([]byte, error) {
	var buf bytes.Buffer
	if err := h.SharedMemoryHeader.encode(&buf); err != nil {
		return nil, err
	}
	for _, v := range []any{h.BinsLen, h.WindowSize, h.SampleRate, h.SmoothingTau, h.DecayRate} {
		if err := binary.Write(&buf, binary.LittleEndian, v); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// DecodeFFTHeader parses a buffer previously produced by EncodeFFTHeader.
func DecodeFFTHeader(data []byte) (FFTHeader, error) {
	base, err := decodeBaseHeader(data)
	if err != nil {
		return FFTHeader{}, err
	}
	if len(data) < FFTHeaderSize {
		return FFTHeader{}, fmt.Errorf("workermsg: short buffer for fft header: got %d want %d", len(data), FFTHeaderSize)
	}
	r := bytes.NewReader(data[baseHeaderSize:FFTHeaderSize])
	var bins, window, rate uint32
	var tau, decay float64
	for _, err := range []error{
		binary.Read(r, binary.LittleEndian, &bins),
		binary.Read(r, binary.LittleEndian, &window),
		binary.Read(r, binary.LittleEndian, &rate),
		binary.Read(r, binary.LittleEndian, &tau),
		binary.Read(r, binary.LittleEndian, &decay),
	} {
		if err != nil {
			return FFTHeader{}, err
		}
	}
	return FFTHeader{
		SharedMemoryHeader: base,
		BinsLen:            bins,
		WindowSize:         window,
		SampleRate:         rate,
		SmoothingTau:       tau,
		DecayRate:          decay,
	}, nil
}
