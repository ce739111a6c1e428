package broadcaster

import (
	"testing"

	"github.com/stretchr/testify/require"

	"alex/internal/push"
)

type fakeServer struct {
	calls []struct {
		room  string
		frame push.Frame
	}
}

func (f *fakeServer) BroadcastToRoom(room string, frame push.Frame) {
	f.calls = append(f.calls, struct {
		room  string
		frame push.Frame
	}{room, frame})
}

func TestPublishDeliversImmediatelyWhenAttached(t *testing.T) {
	srv := &fakeServer{}
	b := New(srv, nil)
	b.TaskCompleted("T1", "svc-a")

	require.Len(t, srv.calls, 1)
	require.Equal(t, "global", srv.calls[0].room)
	require.Equal(t, "task.completed", srv.calls[0].frame.Event)
	require.Equal(t, 0, b.BufferLen())
}

func TestPublishBuffersWhenDetached(t *testing.T) {
	b := New(nil, nil)
	b.WorkflowStarted("W1", "ship")

	require.Equal(t, 1, b.BufferLen())
}

func TestFlushDrainsBufferInOrderOnReattach(t *testing.T) {
	b := New(nil, nil)
	b.WorkflowStarted("W1", "ship")
	b.WorkflowStageCompleted("W1", "step-1", "T1")
	require.Equal(t, 2, b.BufferLen())

	srv := &fakeServer{}
	b.Attach(srv)
	delivered := b.Flush()

	require.Equal(t, 2, delivered)
	require.Equal(t, 0, b.BufferLen())
	require.Len(t, srv.calls, 2)
	require.Equal(t, "workflow.started", srv.calls[0].frame.Event)
	require.Equal(t, "workflow.stage_completed", srv.calls[1].frame.Event)
}

func TestBufferDropsOldestOverCapacity(t *testing.T) {
	b := New(nil, nil)
	b.SetBuffering(true, 2)
	b.PoolScaled("p1", 1)
	b.PoolScaled("p1", 2)
	b.PoolScaled("p1", 3)

	require.Equal(t, 2, b.BufferLen())
}

func TestFlushWithNoServerIsNoOp(t *testing.T) {
	b := New(nil, nil)
	b.WorkerAdded("p1", "w1")
	require.Equal(t, 0, b.Flush())
	require.Equal(t, 1, b.BufferLen())
}

func TestDisablingBufferingDropsQueuedEvents(t *testing.T) {
	b := New(nil, nil)
	b.WorkerAdded("p1", "w1")
	require.Equal(t, 1, b.BufferLen())

	b.SetBuffering(false, 0)
	require.Equal(t, 0, b.BufferLen())

	b.WorkerAdded("p1", "w2")
	require.Equal(t, 0, b.BufferLen())
}
