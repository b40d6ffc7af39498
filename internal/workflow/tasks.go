package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"smr/internal/errs"
	"smr/internal/metrics"
)

// Queue names and their worker priorities
const (
	QueueCritical = "critical"
	QueueDefault  = "default"
	QueueLow      = "low"
)

// Queues returns the asynq queue priorities used by the worker
func Queues() map[string]int {
	return map[string]int{
		QueueCritical: 6,
		QueueDefault:  3,
		QueueLow:      1,
	}
}

// Task types
const (
	TypeUploadProcess = "smr:upload_process"
)

// ProcessPayload is the payload of an upload processing task
type ProcessPayload struct {
	UploadID int64 `json:"upload_id"`
}

// NewProcessTask creates a task that parses and resolves an upload
func NewProcessTask(uploadID int64) (*asynq.Task, error) {
	payload, err := json.Marshal(ProcessPayload{UploadID: uploadID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeUploadProcess, payload), nil
}

// HandleProcessTask is the asynq handler for TypeUploadProcess. Pipeline
// errors are final for the upload, so only infrastructure failures retry.
func (p *Pipeline) HandleProcessTask(ctx context.Context, t *asynq.Task) error {
	start := time.Now()
	status := "success"
	defer func() {
		metrics.Default().JobDurationSeconds.
			WithLabelValues(QueueDefault, TypeUploadProcess, status).
			Observe(time.Since(start).Seconds())
	}()

	var payload ProcessPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		status = "invalid"
		return fmt.Errorf("invalid upload process payload: %v: %w", err, asynq.SkipRetry)
	}
	if payload.UploadID <= 0 {
		status = "invalid"
		return fmt.Errorf("upload process payload has no upload id: %w", asynq.SkipRetry)
	}

	_, err := p.Process(ctx, payload.UploadID)
	if err == nil {
		return nil
	}
	status = "failed"

	switch errs.KindOf(err) {
	case errs.KindDatabase, errs.KindStorage, "":
		return err
	default:
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}
}
