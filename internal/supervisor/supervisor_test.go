package supervisor

import (
	"bufio"
	"context"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auroraframe/screensaver/internal/workermsg"
)

// TestHelperProcess is not a real test; it is re-exec'd as a worker
// process body by the spawn functions below, following the standard
// os/exec "helper process" testing pattern. It is a no-op when run as
// part of the ordinary test suite.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	runHelperWorker()
	os.Exit(0)
}

// runHelperWorker echoes every request back as a successful response of
// the same type and correlation id, acknowledges heartbeats, and exits
// on shutdown — enough behavior to exercise the supervisor's send/
// heartbeat/restart/shutdown paths without a real worker implementation.
func runHelperWorker() {
	r := bufio.NewReader(os.Stdin)
	for {
		msg, err := workermsg.ReadMessage(r)
		if err != nil {
			return
		}
		switch msg.Type {
		case workermsg.MsgShutdown:
			return
		case workermsg.MsgHeartbeat:
			_ = workermsg.WriteResponse(os.Stdout, workermsg.Response{
				Type: workermsg.MsgHeartbeatAck, SeqNo: msg.SeqNo,
				CorrelationID: msg.CorrelationID, Success: true, Timestamp: time.Now(),
			})
		default:
			_ = workermsg.WriteResponse(os.Stdout, workermsg.Response{
				Type: msg.Type, SeqNo: msg.SeqNo, CorrelationID: msg.CorrelationID,
				Success: true, Timestamp: time.Now(), Payload: msg.Payload, ProcessingTimeMS: 1,
			})
		}
	}
}

func helperSpawn(kind workermsg.WorkerType) *exec.Cmd {
	cmd := exec.Command(os.Args[0], "-test.run=TestHelperProcess")
	cmd.Env = append(os.Environ(), "GO_WANT_HELPER_PROCESS=1")
	cmd.Stderr = os.Stderr
	return cmd
}

func testConfig() WorkerConfig {
	return WorkerConfig{
		RequestQueueSize: 4, ResponseQueueSize: 4, DropOldest: true,
		PollTimeout: 10 * time.Millisecond,
		HeartbeatInterval: 50 * time.Millisecond, HeartbeatTimeout: 200 * time.Millisecond,
	}
}

func TestSupervisorStartHeartbeatShutdown(t *testing.T) {
	s := New(nil, map[workermsg.WorkerType]WorkerConfig{workermsg.WorkerImage: testConfig()}, helperSpawn)

	ctx := context.Background()
	require.NoError(t, s.Start(ctx))

	snap := s.HealthSnapshots()[workermsg.WorkerImage]
	assert.Equal(t, StateRunning.String(), snap.State)
	assert.NotZero(t, snap.PID)

	require.NoError(t, s.Tick(ctx))
	snap = s.HealthSnapshots()[workermsg.WorkerImage]
	assert.True(t, snap.IsHealthy)
	assert.Equal(t, 0, snap.MissedHeartbeats)

	payload, err := workermsg.NewPayload(map[string]any{"path": "/tmp/x.png"})
	require.NoError(t, err)
	resp, err := s.SendAndWait(ctx, workermsg.WorkerImage, workermsg.Message{
		Type: workermsg.MsgImageDecode, Payload: payload,
	}, time.Second)
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, workermsg.MsgImageDecode, resp.Type)

	require.NoError(t, s.Shutdown(ctx, 2*time.Second))

	snap = s.HealthSnapshots()[workermsg.WorkerImage]
	assert.Equal(t, StateStopped.String(), snap.State)

	// Shutdown is idempotent.
	require.NoError(t, s.Shutdown(ctx, time.Second))
}

func TestSupervisorSendUnknownWorkerKind(t *testing.T) {
	s := New(nil, map[workermsg.WorkerType]WorkerConfig{workermsg.WorkerImage: testConfig()}, helperSpawn)
	err := s.Send(workermsg.WorkerRSS, workermsg.Message{Type: workermsg.MsgRSSFetch})
	assert.Error(t, err)
}

func TestSupervisorSendAndWaitTimeout(t *testing.T) {
	cfg := testConfig()
	s := New(nil, map[workermsg.WorkerType]WorkerConfig{workermsg.WorkerFFT: cfg}, func(kind workermsg.WorkerType) *exec.Cmd {
		// A worker that never responds to anything, to exercise the
		// SendAndWait timeout path.
		return exec.Command("sleep", "5")
	})
	ctx := context.Background()
	require.NoError(t, s.Start(ctx))
	defer s.Shutdown(ctx, time.Second)

	_, err := s.SendAndWait(ctx, workermsg.WorkerFFT, workermsg.Message{Type: workermsg.MsgFFTFrame}, 50*time.Millisecond)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timeout")
}
