package handlers

import (
	"errors"
	"sort"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/hibiken/asynq"

	"smr/internal/pagination"
	"smr/internal/utils"
	"smr/internal/workflow"
)

// TaskInspector is the part of *asynq.Inspector the DLQ endpoints use
type TaskInspector interface {
	ListArchivedTasks(queue string, opts ...asynq.ListOption) ([]*asynq.TaskInfo, error)
	GetTaskInfo(queue, id string) (*asynq.TaskInfo, error)
	RunTask(queue, id string) error
	DeleteTask(queue, id string) error
}

// DLQHandler manages pipeline tasks that exhausted their retries
type DLQHandler struct {
	inspector TaskInspector
	queues    []string
}

// NewDLQHandler creates a new DLQ handler over the pipeline queues
func NewDLQHandler(inspector TaskInspector) *DLQHandler {
	queues := make([]string, 0, len(workflow.Queues()))
	for q := range workflow.Queues() {
		queues = append(queues, q)
	}
	sort.Strings(queues)
	return &DLQHandler{
		inspector: inspector,
		queues:    queues,
	}
}

// DLQItem represents a single archived task
type DLQItem struct {
	ID           string    `json:"id"`
	Queue        string    `json:"queue"`
	Type         string    `json:"type"`
	Reason       string    `json:"reason"`
	Payload      string    `json:"payload"`
	Retried      int       `json:"retried"`
	MaxRetry     int       `json:"max_retry"`
	LastFailedAt time.Time `json:"last_failed_at"`
}

// DLQActionRequest names archived tasks of one queue
type DLQActionRequest struct {
	Queue   string   `json:"queue" validate:"required"`
	TaskIDs []string `json:"task_ids" validate:"required,min=1,dive,required"`
}

func toDLQItem(info *asynq.TaskInfo) DLQItem {
	return DLQItem{
		ID:           info.ID,
		Queue:        info.Queue,
		Type:         info.Type,
		Reason:       info.LastErr,
		Payload:      string(info.Payload),
		Retried:      info.Retried,
		MaxRetry:     info.MaxRetry,
		LastFailedAt: info.LastFailedAt,
	}
}

// GetDLQItems lists archived tasks across the pipeline queues, newest failure first
func (h *DLQHandler) GetDLQItems(c *fiber.Ctx) error {
	page := pagination.FromQuery(c)

	queues := h.queues
	if q := c.Query("queue"); q != "" {
		if !h.knownQueue(q) {
			return utils.SendValidationError(c, "queue", "unknown queue")
		}
		queues = []string{q}
	}

	all := []DLQItem{}
	for _, q := range queues {
		tasks, err := h.inspector.ListArchivedTasks(q, asynq.PageSize(pagination.MaxPageSize))
		if errors.Is(err, asynq.ErrQueueNotFound) {
			continue
		}
		if err != nil {
			return utils.SendInternalServerError(c, "Failed to list archived tasks")
		}
		for _, t := range tasks {
			all = append(all, toDLQItem(t))
		}
	}
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].LastFailedAt.After(all[j].LastFailedAt)
	})

	total := int64(len(all))
	start := page.Offset()
	if start > len(all) {
		start = len(all)
	}
	end := start + page.Size
	if end > len(all) {
		end = len(all)
	}

	return c.JSON(fiber.Map{
		"data":       all[start:end],
		"pagination": page.Meta(total),
	})
}

// GetTask returns one task of a queue
func (h *DLQHandler) GetTask(c *fiber.Ctx) error {
	queue, id := c.Params("queue"), c.Params("id")
	if !h.knownQueue(queue) {
		return utils.SendValidationError(c, "queue", "unknown queue")
	}

	info, err := h.inspector.GetTaskInfo(queue, id)
	if errors.Is(err, asynq.ErrTaskNotFound) || errors.Is(err, asynq.ErrQueueNotFound) {
		return utils.SendNotFoundError(c, "task")
	}
	if err != nil {
		return utils.SendInternalServerError(c, "Failed to load task")
	}

	item := toDLQItem(info)
	return c.JSON(fiber.Map{
		"task":  item,
		"state": info.State.String(),
	})
}

// RequeueDLQItems moves archived tasks back to pending
func (h *DLQHandler) RequeueDLQItems(c *fiber.Ctx) error {
	return h.apply(c, "requeued", h.inspector.RunTask)
}

// PurgeDLQItems deletes archived tasks
func (h *DLQHandler) PurgeDLQItems(c *fiber.Ctx) error {
	return h.apply(c, "purged", h.inspector.DeleteTask)
}

func (h *DLQHandler) apply(c *fiber.Ctx, verb string, fn func(queue, id string) error) error {
	var req DLQActionRequest
	if ok, err := bindJSON(c, &req); !ok {
		return err
	}
	if !h.knownQueue(req.Queue) {
		return utils.SendValidationError(c, "queue", "unknown queue")
	}

	done := 0
	failedIDs := []string{}
	for _, id := range req.TaskIDs {
		if err := fn(req.Queue, id); err != nil {
			failedIDs = append(failedIDs, id)
			continue
		}
		done++
	}

	return c.JSON(fiber.Map{
		"status":     "ok",
		verb:         done,
		"failed_ids": failedIDs,
	})
}

func (h *DLQHandler) knownQueue(q string) bool {
	for _, known := range h.queues {
		if known == q {
			return true
		}
	}
	return false
}
