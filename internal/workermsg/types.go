// Package workermsg defines the message envelopes exchanged between the
// host process and the four worker processes, and the fixed binary
// shared-memory headers used when a payload is too large to pass inline.
package workermsg

import (
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// WorkerType identifies one of the four worker process kinds.
type WorkerType string

const (
	WorkerImage      WorkerType = "image"
	WorkerRSS        WorkerType = "rss"
	WorkerFFT        WorkerType = "fft"
	WorkerTransition WorkerType = "transition"
)

// Size caps per worker kind, in bytes. A message whose serialized
// payload exceeds its kind's cap fails validation rather than being
// silently truncated or passed through.
const (
	MaxImagePayload      = 50 * 1024 * 1024
	MaxRSSPayload        = 1 * 1024 * 1024
	MaxFFTPayload        = 64 * 1024
	MaxTransitionPayload = 1 * 1024 * 1024
)

func maxPayloadFor(wt WorkerType) (int, bool) {
	switch wt {
	case WorkerImage:
		return MaxImagePayload, true
	case WorkerRSS:
		return MaxRSSPayload, true
	case WorkerFFT:
		return MaxFFTPayload, true
	case WorkerTransition:
		return MaxTransitionPayload, true
	default:
		return 0, false
	}
}

// MessageType enumerates every control and worker-specific message kind
// exchanged over the request/response queues.
type MessageType string

const (
	MsgShutdown     MessageType = "shutdown"
	MsgHeartbeat    MessageType = "heartbeat"
	MsgHeartbeatAck MessageType = "heartbeat_ack"
	MsgConfigUpdate MessageType = "config_update"
	MsgWorkerReady  MessageType = "worker_ready"
	MsgWorkerBusy   MessageType = "worker_busy"
	MsgWorkerIdle   MessageType = "worker_idle"

	MsgImageDecode   MessageType = "image_decode"
	MsgImagePrescale MessageType = "image_prescale"
	MsgImageResult   MessageType = "image_result"

	MsgRSSFetch   MessageType = "rss_fetch"
	MsgRSSRefresh MessageType = "rss_refresh"
	MsgRSSResult  MessageType = "rss_result"

	MsgFFTFrame  MessageType = "fft_frame"
	MsgFFTBars   MessageType = "fft_bars"
	MsgFFTConfig MessageType = "fft_config"

	MsgTransitionPrecompute MessageType = "transition_precompute"
	MsgTransitionResult     MessageType = "transition_result"

	MsgError MessageType = "error"
)

// Message is a request sent to a worker process. Payload is a dynamic
// tagged tree so each worker kind can carry its own shape without a
// dedicated Go type per message, matching the wire-neutral payload map
// the original design calls for.
type Message struct {
	Type          MessageType
	SeqNo         uint64
	CorrelationID string
	Timestamp     time.Time
	Payload       *structpb.Struct
	WorkerType    WorkerType
}

// ValidateSize reports whether the message's payload fits within its
// worker type's size cap. Messages with no recognized worker type (pure
// control messages) always validate.
func (m *Message) ValidateSize() bool {
	limit, ok := maxPayloadFor(m.WorkerType)
	if !ok {
		return true
	}
	if m.Payload == nil {
		return true
	}
	b, err := proto.Marshal(m.Payload)
	if err != nil {
		return false
	}
	return len(b) <= limit
}

// Response is a worker process's reply to a Message.
type Response struct {
	Type              MessageType
	SeqNo             uint64
	CorrelationID     string
	Success           bool
	Timestamp         time.Time
	Error             string
	ErrorCode         int
	Payload           *structpb.Struct
	SharedMemoryName  string
	ProcessingTimeMS  float64
}

// NewPayload builds a *structpb.Struct from a plain map, mirroring the
// original's to_dict/from_dict payload construction.
func NewPayload(m map[string]any) (*structpb.Struct, error) {
	if m == nil {
		return structpb.NewStruct(map[string]any{})
	}
	return structpb.NewStruct(m)
}

// PayloadMap returns the payload as a plain map, or nil if there is none.
func (m *Message) PayloadMap() map[string]any {
	if m.Payload == nil {
		return nil
	}
	return m.Payload.AsMap()
}

// PayloadMap returns the response payload as a plain map, or nil.
func (r *Response) PayloadMap() map[string]any {
	if r.Payload == nil {
		return nil
	}
	return r.Payload.AsMap()
}
