package workflow

import (
	"context"
	"time"

	"github.com/hibiken/asynq"

	"smr/internal/logging"
	"smr/internal/tracing"
)

// JobMiddleware traces and logs every task the worker runs
func JobMiddleware(logger *logging.Logger) asynq.MiddlewareFunc {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return func(next asynq.Handler) asynq.Handler {
		return asynq.HandlerFunc(func(ctx context.Context, t *asynq.Task) error {
			id, _ := asynq.GetTaskID(ctx)
			queue, _ := asynq.GetQueueName(ctx)
			attempt, _ := asynq.GetRetryCount(ctx)

			ctx, span := tracing.StartJob(ctx, id, queue, t.Type(), attempt)
			defer span.End()

			start := time.Now()
			err := next.ProcessTask(ctx, t)
			if err != nil {
				tracing.SetSpanError(ctx, err)
				logger.LogJobProcessing(queue, t.Type(), attempt, time.Since(start), false, err.Error())
				return err
			}
			logger.LogJobProcessing(queue, t.Type(), attempt, time.Since(start), true, "")
			return nil
		})
	}
}
