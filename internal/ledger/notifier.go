package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"smr/internal/errs"
	"smr/internal/logging"
	"smr/internal/metrics"
	"smr/internal/repository"
)

// TypeLedgerRegister is the asynq task type for ledger registrations
const TypeLedgerRegister = "smr:ledger_register"

// Enqueuer is the part of *asynq.Client the notifier needs
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Notifier delivers registrations without blocking the caller
type Notifier struct {
	registrar Registrar
	uploads   repository.UploadRepository
	queue     Enqueuer
	timeout   time.Duration
	logger    *logging.Logger
	metrics   *metrics.Metrics
	wg        sync.WaitGroup
}

// NewNotifier creates a notifier. A nil registrar disables registration. With a
// nil queue registrations run on tracked goroutines.
func NewNotifier(registrar Registrar, uploads repository.UploadRepository, queue Enqueuer, timeout time.Duration, logger *logging.Logger) *Notifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Notifier{
		registrar: registrar,
		uploads:   uploads,
		queue:     queue,
		timeout:   timeout,
		logger:    logger,
		metrics:   metrics.Default(),
	}
}

// Enabled reports whether a registrar is configured
func (n *Notifier) Enabled() bool {
	return n != nil && n.registrar != nil
}

// Notify hands the registration off and returns immediately. Failures are only logged.
func (n *Notifier) Notify(ctx context.Context, reg Registration) {
	if !n.Enabled() {
		return
	}

	if n.queue != nil {
		task, err := NewRegisterTask(reg)
		if err == nil {
			_, err = n.queue.EnqueueContext(ctx, task,
				asynq.Queue("low"),
				asynq.MaxRetry(5),
				asynq.Timeout(n.timeout),
			)
		}
		if err != nil {
			n.fail(ctx, reg, fmt.Errorf("failed to enqueue ledger registration: %w", err))
		}
		return
	}

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), n.timeout)
		defer cancel()
		_ = n.Register(runCtx, reg)
	}()
}

// Register performs one registration synchronously and stores the certificate id
func (n *Notifier) Register(ctx context.Context, reg Registration) error {
	if !n.Enabled() {
		return ErrDisabled
	}

	cert, err := n.registrar.Register(ctx, reg)
	if err != nil {
		n.fail(ctx, reg, err)
		return err
	}
	if cert == nil || cert.ID == "" {
		return nil
	}

	stored, err := n.uploads.SetCertificate(ctx, reg.SourceRecordID, cert.ID)
	if err != nil {
		n.fail(ctx, reg, fmt.Errorf("failed to store certificate id: %w", err))
		return err
	}
	if !stored {
		n.logger.WithUpload(reg.SourceRecordID, errs.StageLedger).Warn().
			Str("certificate_id", cert.ID).
			Msg("Upload already carries a ledger certificate, keeping the first")
		return nil
	}

	n.logger.WithUpload(reg.SourceRecordID, errs.StageLedger).Info().
		Str("certificate_id", cert.ID).
		Msg("Upload registered with content ledger")
	return nil
}

// HandleRegisterTask is the asynq handler for TypeLedgerRegister. Returning the
// error lets asynq retry.
func (n *Notifier) HandleRegisterTask(ctx context.Context, t *asynq.Task) error {
	var reg Registration
	if err := json.Unmarshal(t.Payload(), &reg); err != nil {
		return fmt.Errorf("failed to unmarshal ledger payload: %v: %w", err, asynq.SkipRetry)
	}
	return n.Register(ctx, reg)
}

// Wait blocks until in-flight goroutine registrations finish
func (n *Notifier) Wait() {
	n.wg.Wait()
}

func (n *Notifier) fail(ctx context.Context, reg Registration, err error) {
	n.metrics.LedgerFailures.Inc()
	n.logger.LogStageEvent(ctx, zerolog.WarnLevel, logging.StageEvent{
		UploadID: reg.SourceRecordID,
		Stage:    errs.StageLedger,
		Message:  "Content ledger registration failed",
		Err:      err,
	})
}

// NewRegisterTask builds the asynq task for a registration
func NewRegisterTask(reg Registration) (*asynq.Task, error) {
	payload, err := json.Marshal(reg)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeLedgerRegister, payload), nil
}
