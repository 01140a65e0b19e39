package workermsg

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// The wire framing below is the concrete realization of the spec's
// to_dict/from_dict contract for a statically typed target: every
// envelope is a sequence of length-prefixed fields (a tagged tree
// flattened to its known shape rather than an open map), followed by
// the dynamic payload encoded with the teacher's own protobuf
// dependency via structpb. A 4-byte little-endian frame length prefixes
// the whole envelope on the wire so a stream reader never has to guess
// where one envelope ends and the next begins.
const maxFrameBytes = MaxImagePayload + (1 << 20) // headroom over the largest payload cap

// WriteMessage encodes m as a length-prefixed frame and writes it to w.
func WriteMessage(w io.Writer, m Message) error {
	return writeFrame(w, encodeMessage(m))
}

// ReadMessage reads one length-prefixed frame from r and decodes it.
func ReadMessage(r *bufio.Reader) (Message, error) {
	body, err := readFrame(r)
	if err != nil {
		return Message{}, err
	}
	return decodeMessage(body)
}

// WriteResponse encodes r as a length-prefixed frame and writes it to w.
func WriteResponse(w io.Writer, r Response) error {
	return writeFrame(w, encodeResponse(r))
}

// ReadResponse reads one length-prefixed frame from r and decodes it.
func ReadResponse(r *bufio.Reader) (Response, error) {
	body, err := readFrame(r)
	if err != nil {
		return Response{}, err
	}
	return decodeResponse(body)
}

func writeFrame(w io.Writer, body []byte) error {
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(body)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(body)
	return err
}

func readFrame(r *bufio.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.LittleEndian.Uint32(lenBuf[:])
	if n > maxFrameBytes {
		return nil, fmt.Errorf("workermsg: frame of %d bytes exceeds maximum %d", n, maxFrameBytes)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	return body, nil
}

// field writer/reader: each field is a uint32 length prefix followed by
// its raw bytes, concatenated in a fixed, documented order per envelope
// kind. This is the flattened equivalent of the original's ordered
// to_dict() map.
func putField(buf *bytes.Buffer, b []byte) {
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(b)))
	buf.Write(lenBuf[:])
	buf.Write(b)
}

func getField(r *bytes.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.LittleEndian.Uint32(lenBuf[:])
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}

func putUint64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	putField(buf, b[:])
}

func getUint64(r *bytes.Reader) (uint64, error) {
	b, err := getField(r)
	if err != nil {
		return 0, err
	}
	if len(b) != 8 {
		return 0, fmt.Errorf("workermsg: expected 8-byte field, got %d", len(b))
	}
	return binary.LittleEndian.Uint64(b), nil
}

// encodeMessage/decodeMessage implement the codec identity property:
// for every Message m, decodeMessage(encodeMessage(m)) == m (modulo
// time.Time's monotonic reading, stripped by the UnixNano round trip),
// provided m.Timestamp lies within UnixNano's int64 range (the zero
// time.Time does not) and a non-nil Payload is not empty (an empty
// Payload decodes as nil).
func encodeMessage(m Message) []byte {
	var buf bytes.Buffer
	putField(&buf, []byte(m.Type))
	putUint64(&buf, m.SeqNo)
	putField(&buf, []byte(m.CorrelationID))
	putUint64(&buf, uint64(m.Timestamp.UnixNano()))
	putField(&buf, []byte(m.WorkerType))
	putField(&buf, marshalPayload(m.Payload))
	return buf.Bytes()
}

func decodeMessage(data []byte) (Message, error) {
	r := bytes.NewReader(data)
	typ, err := getField(r)
	if err != nil {
		return Message{}, err
	}
	seq, err := getUint64(r)
	if err != nil {
		return Message{}, err
	}
	corrID, err := getField(r)
	if err != nil {
		return Message{}, err
	}
	tsNano, err := getUint64(r)
	if err != nil {
		return Message{}, err
	}
	wt, err := getField(r)
	if err != nil {
		return Message{}, err
	}
	payloadBytes, err := getField(r)
	if err != nil {
		return Message{}, err
	}
	payload, err := unmarshalPayload(payloadBytes)
	if err != nil {
		return Message{}, err
	}
	return Message{
		Type:          MessageType(typ),
		SeqNo:         seq,
		CorrelationID: string(corrID),
		Timestamp:     time.Unix(0, int64(tsNano)),
		WorkerType:    WorkerType(wt),
		Payload:       payload,
	}, nil
}

func encodeResponse(resp Response) []byte {
	var buf bytes.Buffer
	putField(&buf, []byte(resp.Type))
	putUint64(&buf, resp.SeqNo)
	putField(&buf, []byte(resp.CorrelationID))
	putUint64(&buf, uint64(resp.Timestamp.UnixNano()))
	success := byte(0)
	if resp.Success {
		success = 1
	}
	putField(&buf, []byte{success})
	putField(&buf, []byte(resp.Error))
	putUint64(&buf, uint64(int64(resp.ErrorCode)))
	putField(&buf, marshalPayload(resp.Payload))
	putField(&buf, []byte(resp.SharedMemoryName))
	putUint64(&buf, math.Float64bits(resp.ProcessingTimeMS))
	return buf.Bytes()
}

func decodeResponse(data []byte) (Response, error) {
	r := bytes.NewReader(data)
	typ, err := getField(r)
	if err != nil {
		return Response{}, err
	}
	seq, err := getUint64(r)
	if err != nil {
		return Response{}, err
	}
	corrID, err := getField(r)
	if err != nil {
		return Response{}, err
	}
	tsNano, err := getUint64(r)
	if err != nil {
		return Response{}, err
	}
	successField, err := getField(r)
	if err != nil {
		return Response{}, err
	}
	errMsg, err := getField(r)
	if err != nil {
		return Response{}, err
	}
	errCode, err := getUint64(r)
	if err != nil {
		return Response{}, err
	}
	payloadBytes, err := getField(r)
	if err != nil {
		return Response{}, err
	}
	shmName, err := getField(r)
	if err != nil {
		return Response{}, err
	}
	procTimeBits, err := getUint64(r)
	if err != nil {
		return Response{}, err
	}
	payload, err := unmarshalPayload(payloadBytes)
	if err != nil {
		return Response{}, err
	}
	return Response{
		Type:             MessageType(typ),
		SeqNo:            seq,
		CorrelationID:    string(corrID),
		Timestamp:        time.Unix(0, int64(tsNano)),
		Success:          len(successField) > 0 && successField[0] == 1,
		Error:            string(errMsg),
		ErrorCode:        int(int64(errCode)),
		Payload:          payload,
		SharedMemoryName: string(shmName),
		ProcessingTimeMS: math.Float64frombits(procTimeBits),
	}, nil
}

func marshalPayload(p *structpb.Struct) []byte {
	if p == nil {
		return nil
	}
	b, err := proto.Marshal(p)
	if err != nil {
		return nil
	}
	return b
}

func unmarshalPayload(b []byte) (*structpb.Struct, error) {
	if len(b) == 0 {
		return nil, nil
	}
	p := &structpb.Struct{}
	if err := proto.Unmarshal(b, p); err != nil {
		return nil, err
	}
	return p, nil
}
