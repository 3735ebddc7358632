package taskqueue

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// TaskStatus represents the current status of a task
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCancelled TaskStatus = "cancelled"
)

// BoundingBox represents a geographic bounding box (matches app.go definition)
type BoundingBox struct {
	South float64 `json:"south"`
	West  float64 `json:"west"`
	North float64 `json:"north"`
	East  float64 `json:"east"`
}

// RenderOptions contains timelapse render settings
type RenderOptions struct {
	Width           int    `json:"width"`
	Height          int    `json:"height"`
	FramesPerSecond int    `json:"framesPerSecond"`
	MaxFrames       int    `json:"maxFrames"`
	OutputFormat    string `json:"outputFormat"` // "gif" or "png"
}

// TaskProgress represents detailed progress information
type TaskProgress struct {
	CurrentPhase string `json:"currentPhase"` // "counting", "rendering", "downloading"
	BytesTotal   int64  `json:"bytesTotal"`
	BytesDone    int64  `json:"bytesDone"`
	Percent      int    `json:"percent"`
}

// ExportTask represents a single timelapse export in the queue
type ExportTask struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Status      TaskStatus `json:"status"`
	Priority    int        `json:"priority"`  // Higher = more urgent (default 0)
	CreatedAt   string     `json:"createdAt"` // ISO 8601 format
	StartedAt   string     `json:"startedAt,omitempty"`
	CompletedAt string     `json:"completedAt,omitempty"`

	// Export settings
	Satellite string      `json:"satellite"`
	Parameter string      `json:"parameter"` // spectral index or "TrueColor"
	BBox      BoundingBox `json:"bbox"`
	StartDate string      `json:"startDate"` // YYYY-MM-DD
	EndDate   string      `json:"endDate"`   // YYYY-MM-DD

	Render RenderOptions `json:"render"`

	// Progress tracking
	Progress TaskProgress `json:"progress"`

	// Error message if failed
	Error string `json:"error,omitempty"`

	// Output path for completed exports
	OutputPath string `json:"outputPath,omitempty"`
}

// NewExportTask creates a new export task with default values
func NewExportTask(name, satellite, parameter string, bbox BoundingBox, startDate, endDate string, render RenderOptions) *ExportTask {
	return &ExportTask{
		ID:        uuid.New().String(),
		Name:      name,
		Status:    TaskStatusPending,
		Priority:  0,
		CreatedAt: time.Now().Format(time.RFC3339),
		Satellite: satellite,
		Parameter: parameter,
		BBox:      bbox,
		StartDate: startDate,
		EndDate:   endDate,
		Render:    render,
	}
}

// SaveToFile persists the task to a JSON file
func (t *ExportTask) SaveToFile(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create task directory: %w", err)
	}

	path := filepath.Join(dir, t.ID+".json")
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write task file: %w", err)
	}

	return nil
}

// LoadFromFile loads a task from a JSON file
func LoadFromFile(path string) (*ExportTask, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read task file: %w", err)
	}

	var task ExportTask
	if err := json.Unmarshal(data, &task); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task: %w", err)
	}

	return &task, nil
}

// DeleteFile removes the task file from disk
func (t *ExportTask) DeleteFile(dir string) error {
	path := filepath.Join(dir, t.ID+".json")
	return os.Remove(path)
}

// UpdateProgress updates the task's progress
func (t *ExportTask) UpdateProgress(phase string, bytesDone, bytesTotal int64) {
	t.Progress.CurrentPhase = phase
	t.Progress.BytesDone = bytesDone
	t.Progress.BytesTotal = bytesTotal

	if bytesTotal > 0 {
		t.Progress.Percent = int(bytesDone * 100 / bytesTotal)
	}
	if t.Progress.Percent > 100 {
		t.Progress.Percent = 100
	}
}

// MarkStarted marks the task as started
func (t *ExportTask) MarkStarted() {
	t.StartedAt = time.Now().Format(time.RFC3339)
	t.Status = TaskStatusRunning
}

// MarkCompleted marks the task as completed
func (t *ExportTask) MarkCompleted(outputPath string) {
	t.CompletedAt = time.Now().Format(time.RFC3339)
	t.Status = TaskStatusCompleted
	t.OutputPath = outputPath
	t.Progress.Percent = 100
}

// MarkFailed marks the task as failed with an error
func (t *ExportTask) MarkFailed(err error) {
	t.CompletedAt = time.Now().Format(time.RFC3339)
	t.Status = TaskStatusFailed
	if err != nil {
		t.Error = err.Error()
	}
}

// MarkCancelled marks the task as cancelled
func (t *ExportTask) MarkCancelled() {
	t.CompletedAt = time.Now().Format(time.RFC3339)
	t.Status = TaskStatusCancelled
}
