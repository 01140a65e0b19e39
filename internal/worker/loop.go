// Package worker implements the uniform worker-process main loop and
// the four worker-kind handlers (image, rss, fft, transition) that run
// inside the subprocesses spawned by internal/supervisor.
package worker

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/auroraframe/screensaver/internal/logx"
	"github.com/auroraframe/screensaver/internal/workermsg"
)

// Handler processes one worker-specific message and returns the
// response payload to send back, or an error to report as an Error
// response.
type Handler interface {
	HandleMessage(msg workermsg.Message) (workermsg.Response, error)
}

// LongRunning is implemented by handlers whose processing of a given
// message kind may exceed the supervisor's heartbeat interval. The
// loop brackets such calls with WorkerBusy/WorkerIdle notifications so
// missed-heartbeat accounting is suppressed for their duration.
type LongRunning interface {
	IsLongRunning(msg workermsg.Message) bool
}

// Loop drives one worker process's main loop: blocking reads from in,
// framed responses to out, shutdown/heartbeat handled inline, and
// everything else dispatched to handler.
type Loop struct {
	kind    workermsg.WorkerType
	handler Handler
	log     *logx.Logger

	in  *bufio.Reader
	out io.Writer

	startedAt time.Time
	processed uint64
	seq       uint64
}

// New constructs a Loop reading from in and writing to out. Passing
// nil for in/out defaults to os.Stdin/os.Stdout, the normal case for a
// re-exec'd worker subprocess; tests supply pipes instead.
func New(kind workermsg.WorkerType, handler Handler, log *logx.Logger, in io.Reader, out io.Writer) *Loop {
	if in == nil {
		in = os.Stdin
	}
	if out == nil {
		out = os.Stdout
	}
	if log == nil {
		log = logx.New("worker")
	}
	return &Loop{
		kind:      kind,
		handler:   handler,
		log:       log.Named("worker." + string(kind)),
		in:        bufio.NewReader(in),
		out:       out,
		startedAt: time.Now(),
	}
}

// Run blocks, processing messages until a Shutdown message is received
// or the input stream is closed (the host process exited or closed its
// end of the pipe). It never returns an error for ordinary shutdown.
func (l *Loop) Run() error {
	l.log.Info("worker started", logx.Int("pid", os.Getpid()))
	defer l.log.Info("worker stopped", logx.Uint64("messages_processed", l.processed))

	for {
		msg, err := workermsg.ReadMessage(l.in)
		if err != nil {
			if err == io.EOF {
				return nil
			}
			l.log.Error("failed to read message, continuing", logx.Err(err))
			continue
		}

		switch msg.Type {
		case workermsg.MsgShutdown:
			l.reply(workermsg.Response{
				Type: workermsg.MsgShutdown, SeqNo: msg.SeqNo,
				CorrelationID: msg.CorrelationID, Success: true, Timestamp: time.Now(),
			})
			return nil
		case workermsg.MsgHeartbeat:
			l.handleHeartbeat(msg)
			continue
		}

		l.dispatch(msg)
	}
}

func (l *Loop) handleHeartbeat(msg workermsg.Message) {
	payload, err := workermsg.NewPayload(map[string]any{
		"uptime_s":           time.Since(l.startedAt).Seconds(),
		"messages_processed": l.processed,
		"pid":                os.Getpid(),
	})
	if err != nil {
		l.log.Error("failed to build heartbeat payload", logx.Err(err))
		return
	}
	l.reply(workermsg.Response{
		Type: workermsg.MsgHeartbeatAck, SeqNo: msg.SeqNo,
		CorrelationID: msg.CorrelationID, Success: true, Timestamp: time.Now(), Payload: payload,
	})
}

func (l *Loop) dispatch(msg workermsg.Message) {
	long := false
	if lr, ok := l.handler.(LongRunning); ok {
		long = lr.IsLongRunning(msg)
	}
	if long {
		l.notify(workermsg.MsgWorkerBusy, msg.CorrelationID)
		defer l.notify(workermsg.MsgWorkerIdle, msg.CorrelationID)
	}

	start := time.Now()
	resp, err := l.safeHandle(msg)
	elapsed := time.Since(start).Seconds() * 1000

	if err != nil {
		l.log.Error("handler failed", logx.String("type", string(msg.Type)), logx.Err(err))
		l.reply(workermsg.Response{
			Type: workermsg.MsgError, SeqNo: msg.SeqNo, CorrelationID: msg.CorrelationID,
			Success: false, Timestamp: time.Now(), Error: err.Error(), ProcessingTimeMS: elapsed,
		})
		return
	}

	resp.SeqNo = msg.SeqNo
	resp.CorrelationID = msg.CorrelationID
	resp.Timestamp = time.Now()
	resp.ProcessingTimeMS = elapsed
	l.reply(resp)
	l.processed++
}

// safeHandle recovers a handler panic into an error response rather
// than crashing the worker process, mirroring the try/except wrapper
// around handle_message in the original base worker loop.
func (l *Loop) safeHandle(msg workermsg.Message) (resp workermsg.Response, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in handler: %v", r)
		}
	}()
	return l.handler.HandleMessage(msg)
}

func (l *Loop) notify(t workermsg.MessageType, correlationID string) {
	l.seq++
	payload, _ := workermsg.NewPayload(map[string]any{"worker_type": string(l.kind)})
	l.reply(workermsg.Response{
		Type: t, SeqNo: l.seq, CorrelationID: correlationID,
		Success: true, Timestamp: time.Now(), Payload: payload,
	})
}

func (l *Loop) reply(resp workermsg.Response) {
	if err := workermsg.WriteResponse(l.out, resp); err != nil {
		l.log.Error("failed to write response", logx.Err(err))
	}
}
