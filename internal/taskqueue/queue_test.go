package taskqueue

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTask(name string) *ExportTask {
	return NewExportTask(name, "Sentinel-2", "NDVI",
		BoundingBox{South: 29.9, West: 31.0, North: 30.1, East: 31.4},
		"2023-01-01", "2023-12-31",
		RenderOptions{Width: 512, Height: 512, FramesPerSecond: 5, MaxFrames: 20, OutputFormat: "gif"})
}

func TestNewExportTask(t *testing.T) {
	task := newTestTask("cairo ndvi")

	assert.NotEmpty(t, task.ID)
	assert.Equal(t, TaskStatusPending, task.Status)
	assert.Equal(t, "Sentinel-2", task.Satellite)
	assert.Equal(t, "NDVI", task.Parameter)

	other := newTestTask("cairo ndvi")
	assert.NotEqual(t, task.ID, other.ID)
}

func TestTaskPersistence(t *testing.T) {
	dir := t.TempDir()
	task := newTestTask("persisted")

	require.NoError(t, task.SaveToFile(dir))

	loaded, err := LoadFromFile(dir + "/" + task.ID + ".json")
	require.NoError(t, err)
	assert.Equal(t, task.ID, loaded.ID)
	assert.Equal(t, task.BBox, loaded.BBox)
	assert.Equal(t, task.Render, loaded.Render)
}

func TestAddGetDelete(t *testing.T) {
	qm := NewQueueManager(t.TempDir(), 1, nil)
	defer qm.Close()

	task := newTestTask("one")
	require.NoError(t, qm.AddTask(task))

	got, err := qm.GetTask(task.ID)
	require.NoError(t, err)
	assert.Equal(t, task.Name, got.Name)

	all := qm.GetAllTasks()
	require.Len(t, all, 1)

	require.NoError(t, qm.DeleteTask(task.ID))
	_, err = qm.GetTask(task.ID)
	assert.Error(t, err)
}

func TestQueuePersistsAcrossRestart(t *testing.T) {
	dir := t.TempDir()

	qm := NewQueueManager(dir, 1, nil)
	first := newTestTask("first")
	second := newTestTask("second")
	require.NoError(t, qm.AddTask(first))
	require.NoError(t, qm.AddTask(second))
	qm.Close()

	reopened := NewQueueManager(dir, 1, nil)
	defer reopened.Close()

	all := reopened.GetAllTasks()
	require.Len(t, all, 2)
	assert.Equal(t, first.ID, all[0].ID)
	assert.Equal(t, second.ID, all[1].ID)
	// Queue never auto-starts after a restart.
	assert.False(t, reopened.GetStatus().IsRunning)
}

func TestReorderTask(t *testing.T) {
	qm := NewQueueManager(t.TempDir(), 1, nil)
	defer qm.Close()

	var ids []string
	for i := 0; i < 3; i++ {
		task := newTestTask(fmt.Sprintf("task %d", i))
		require.NoError(t, qm.AddTask(task))
		ids = append(ids, task.ID)
	}

	require.NoError(t, qm.ReorderTask(ids[2], 0))

	all := qm.GetAllTasks()
	assert.Equal(t, ids[2], all[0].ID)
	assert.Equal(t, ids[0], all[1].ID)
}

func TestCancelPendingTask(t *testing.T) {
	qm := NewQueueManager(t.TempDir(), 1, nil)
	defer qm.Close()

	task := newTestTask("doomed")
	require.NoError(t, qm.AddTask(task))
	require.NoError(t, qm.CancelTask(task.ID))

	got, err := qm.GetTask(task.ID)
	require.NoError(t, err)
	assert.Equal(t, TaskStatusCancelled, got.Status)

	// Finished tasks cannot be cancelled twice.
	assert.Error(t, qm.CancelTask(task.ID))
}

type recordingExecutor struct {
	mu       sync.Mutex
	executed []string
	fail     bool
}

func (e *recordingExecutor) ExecuteExportTask(ctx context.Context, task *ExportTask, progressChan chan<- TaskProgress) error {
	e.mu.Lock()
	e.executed = append(e.executed, task.ID)
	e.mu.Unlock()

	progressChan <- TaskProgress{CurrentPhase: "rendering", Percent: 50}
	if e.fail {
		return fmt.Errorf("render failed")
	}
	return nil
}

func waitForQueue(t *testing.T, qm *QueueManager) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if !qm.GetStatus().IsRunning {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("queue did not drain in time")
}

func TestQueueExecutesTasks(t *testing.T) {
	qm := NewQueueManager(t.TempDir(), 1, nil)
	defer qm.Close()

	exec := &recordingExecutor{}
	qm.SetExecutor(exec)

	var completions []string
	var completionsMu sync.Mutex
	qm.SetCallbacks(nil, nil, func(id string, success bool, err error) {
		completionsMu.Lock()
		completions = append(completions, id)
		completionsMu.Unlock()
		assert.True(t, success)
	})

	first := newTestTask("first")
	second := newTestTask("second")
	require.NoError(t, qm.AddTask(first))
	require.NoError(t, qm.AddTask(second))

	require.NoError(t, qm.StartQueue())
	waitForQueue(t, qm)

	exec.mu.Lock()
	assert.Equal(t, []string{first.ID, second.ID}, exec.executed)
	exec.mu.Unlock()

	got, err := qm.GetTask(first.ID)
	require.NoError(t, err)
	assert.Equal(t, TaskStatusCompleted, got.Status)

	completionsMu.Lock()
	assert.Len(t, completions, 2)
	completionsMu.Unlock()
}

func TestQueueMarksFailedTask(t *testing.T) {
	qm := NewQueueManager(t.TempDir(), 1, nil)
	defer qm.Close()

	qm.SetExecutor(&recordingExecutor{fail: true})

	task := newTestTask("will fail")
	require.NoError(t, qm.AddTask(task))

	require.NoError(t, qm.StartQueue())
	waitForQueue(t, qm)

	got, err := qm.GetTask(task.ID)
	require.NoError(t, err)
	assert.Equal(t, TaskStatusFailed, got.Status)
	assert.Contains(t, got.Error, "render failed")
}

func TestPriorityOrder(t *testing.T) {
	qm := NewQueueManager(t.TempDir(), 1, nil)
	defer qm.Close()

	exec := &recordingExecutor{}
	qm.SetExecutor(exec)

	low := newTestTask("low")
	high := newTestTask("high")
	high.Priority = 5
	require.NoError(t, qm.AddTask(low))
	require.NoError(t, qm.AddTask(high))

	require.NoError(t, qm.StartQueue())
	waitForQueue(t, qm)

	exec.mu.Lock()
	require.Len(t, exec.executed, 2)
	assert.Equal(t, high.ID, exec.executed[0])
	exec.mu.Unlock()
}

func TestClearCompleted(t *testing.T) {
	qm := NewQueueManager(t.TempDir(), 1, nil)
	defer qm.Close()

	done := newTestTask("done")
	require.NoError(t, qm.AddTask(done))
	done.MarkCompleted("/tmp/out.gif")

	pending := newTestTask("pending")
	require.NoError(t, qm.AddTask(pending))

	qm.ClearCompleted()

	all := qm.GetAllTasks()
	require.Len(t, all, 1)
	assert.Equal(t, pending.ID, all[0].ID)
}

func TestUpdateTask(t *testing.T) {
	qm := NewQueueManager(t.TempDir(), 1, nil)
	defer qm.Close()

	task := newTestTask("editable")
	require.NoError(t, qm.AddTask(task))

	require.NoError(t, qm.UpdateTask(task.ID, map[string]interface{}{
		"name":            "renamed",
		"priority":        float64(3),
		"framesPerSecond": float64(10),
	}))

	got, err := qm.GetTask(task.ID)
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Name)
	assert.Equal(t, 3, got.Priority)
	assert.Equal(t, 10, got.Render.FramesPerSecond)
}

func TestQueueUpdateCallbackDoesNotBlockMutations(t *testing.T) {
	qm := NewQueueManager(t.TempDir(), 1, nil)
	defer qm.Close()

	var mu sync.Mutex
	var updates []QueueStatus
	qm.SetCallbacks(func(status QueueStatus) {
		// A real subscriber reads queue state from inside the callback,
		// so the emit must not happen while the queue lock is held.
		_ = qm.GetStatus()
		mu.Lock()
		updates = append(updates, status)
		mu.Unlock()
	}, nil, nil)

	task := newTestTask("watched")

	done := make(chan error, 1)
	go func() {
		if err := qm.AddTask(task); err != nil {
			done <- err
			return
		}
		if err := qm.CancelTask(task.ID); err != nil {
			done <- err
			return
		}
		qm.ClearCompleted()
		done <- nil
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("queue mutation blocked with an update callback registered")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, updates, 3)
	assert.Equal(t, 1, updates[0].TotalTasks)
	assert.Equal(t, 1, updates[0].PendingTasks)
	assert.Equal(t, 0, updates[1].PendingTasks)
	assert.Equal(t, 0, updates[2].TotalTasks)
}
