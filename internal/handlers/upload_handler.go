package handlers

import (
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"smr/internal/errs"
	"smr/internal/finalize"
	"smr/internal/intake"
	"smr/internal/linkage"
	"smr/internal/logging"
	"smr/internal/middleware"
	"smr/internal/models"
	"smr/internal/pagination"
	"smr/internal/repository"
	"smr/internal/utils"
	"smr/internal/workflow"
)

const reportDateLayout = "2006-01-02"

// UploadHandler exposes the report pipeline to submitters and reviewers
type UploadHandler struct {
	store     repository.Store
	pipeline  *workflow.Pipeline
	resolver  *linkage.Resolver
	committer *finalize.Committer
	journal   *logging.Journal
}

// NewUploadHandler creates a new upload handler. journal may be nil when
// stage events are not persisted.
func NewUploadHandler(store repository.Store, pipeline *workflow.Pipeline, resolver *linkage.Resolver, committer *finalize.Committer, journal *logging.Journal) *UploadHandler {
	return &UploadHandler{
		store:     store,
		pipeline:  pipeline,
		resolver:  resolver,
		committer: committer,
		journal:   journal,
	}
}

type mappingRequest struct {
	SubmittedName string `json:"submitted_name" validate:"required,max=512"`
	ArtistID      int64  `json:"artist_id" validate:"required,gt=0"`
}

type rejectRequest struct {
	Reason string `json:"reason" validate:"required,max=2000"`
}

// Submit accepts a multipart report upload
func (h *UploadHandler) Submit(c *fiber.Ctx) error {
	fh, err := c.FormFile("file")
	if err != nil {
		return utils.SendValidationError(c, "file", "a report file is required")
	}

	sub := intake.Submission{
		Filename:   fh.Filename,
		ReportType: strings.TrimSpace(c.FormValue("report_type")),
		Notes:      c.FormValue("notes"),
		UploadedBy: actingUser(c),
	}
	if raw := strings.TrimSpace(c.FormValue("report_date")); raw != "" {
		date, err := time.Parse(reportDateLayout, raw)
		if err != nil {
			return utils.SendValidationError(c, "report_date", "must be formatted as YYYY-MM-DD")
		}
		sub.ReportDate = &date
	}

	f, err := fh.Open()
	if err != nil {
		return utils.SendInternalServerError(c, "Failed to read uploaded file")
	}
	defer f.Close()
	sub.Body = f

	res, err := h.pipeline.Ingest(c.UserContext(), sub)
	if err != nil {
		if e, ok := errs.As(err); ok && res != nil && res.Upload != nil && e.UploadID == 0 {
			e.WithUpload(res.Upload.ID)
		}
		return utils.SendPipelineError(c, err)
	}

	status := fiber.StatusCreated
	if res.Queued {
		status = fiber.StatusAccepted
	}
	return c.Status(status).JSON(fiber.Map{
		"upload_id":       res.Upload.ID,
		"status":          res.Upload.Status,
		"row_count":       res.Upload.RowCount,
		"unmatched_count": res.Upload.UnmatchedCount,
		"linkage_rate":    res.Upload.LinkageRate,
		"queued":          res.Queued,
		"upload":          res.Upload,
	})
}

// List returns uploads, optionally filtered by a comma separated status list
func (h *UploadHandler) List(c *fiber.Ctx) error {
	page := pagination.FromQuery(c)

	filter := repository.UploadFilter{Offset: page.Offset(), Limit: page.Size}
	if raw := c.Query("status"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			status, err := models.ParseStatus(strings.TrimSpace(s))
			if err != nil {
				return utils.SendValidationError(c, "status", err.Error())
			}
			filter.Statuses = append(filter.Statuses, status)
		}
	}

	uploads, total, err := h.store.Uploads().List(c.UserContext(), filter)
	if err != nil {
		return utils.SendInternalServerError(c, "Failed to list uploads")
	}

	return c.JSON(fiber.Map{
		"data":       uploads,
		"pagination": page.Meta(total),
	})
}

// Get returns one upload. Finalized uploads include their audit record.
func (h *UploadHandler) Get(c *fiber.Ctx) error {
	upload, ok, err := h.loadUpload(c)
	if !ok {
		return err
	}

	body := fiber.Map{"upload": upload}
	if upload.Status == models.StatusFinalized {
		audit, err := h.store.Charts().AuditFor(c.UserContext(), upload.ID)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return utils.SendInternalServerError(c, "Failed to load audit record")
		}
		if audit != nil {
			body["audit"] = audit
		}
	}
	return c.JSON(body)
}

// Rows returns the raw staging rows of an upload in row order
func (h *UploadHandler) Rows(c *fiber.Ctx) error {
	upload, ok, err := h.loadUpload(c)
	if !ok {
		return err
	}

	page := pagination.FromQuery(c)
	rows, total, err := h.store.Staging().List(c.UserContext(), upload.ID, page.Offset(), page.Size)
	if err != nil {
		return utils.SendInternalServerError(c, "Failed to list staging rows")
	}

	return c.JSON(fiber.Map{
		"data":       rows,
		"pagination": page.Meta(total),
	})
}

// Unmatched lists the unresolved submitted names with suggestions
func (h *UploadHandler) Unmatched(c *fiber.Ctx) error {
	id, ok := uploadIDParam(c, "id")
	if !ok {
		return utils.SendValidationError(c, "id", "must be a positive integer")
	}

	entries, err := h.resolver.Unmatched(c.UserContext(), id)
	if err != nil {
		return utils.SendPipelineError(c, err)
	}
	return c.JSON(fiber.Map{"data": entries})
}

// Map records a reviewer override and re-evaluates linkage
func (h *UploadHandler) Map(c *fiber.Ctx) error {
	id, ok := uploadIDParam(c, "id")
	if !ok {
		return utils.SendValidationError(c, "id", "must be a positive integer")
	}

	var req mappingRequest
	if ok, err := bindJSON(c, &req); !ok {
		return err
	}

	res, err := h.resolver.ApplyOverride(c.UserContext(), linkage.Override{
		UploadID:      id,
		SubmittedName: req.SubmittedName,
		ArtistID:      req.ArtistID,
		VerifiedBy:    actingUser(c),
	})
	if err != nil {
		return utils.SendPipelineError(c, err)
	}
	return c.JSON(res)
}

// Gate reports whether the upload currently passes the linkage threshold
func (h *UploadHandler) Gate(c *fiber.Ctx) error {
	upload, ok, err := h.loadUpload(c)
	if !ok {
		return err
	}

	result, err := h.resolver.Evaluate(c.UserContext(), upload.ID)
	if errs.Is(err, errs.KindEmptyReport) {
		return c.JSON(fiber.Map{
			"upload_id": upload.ID,
			"status":    upload.Status,
			"empty":     true,
			"gate":      result,
		})
	}
	if err != nil {
		return utils.SendPipelineError(c, err)
	}

	return c.JSON(fiber.Map{
		"upload_id": upload.ID,
		"status":    upload.Status,
		"empty":     false,
		"gate":      result,
	})
}

// Finalize commits the upload into the canonical chart
func (h *UploadHandler) Finalize(c *fiber.Ctx) error {
	id, ok := uploadIDParam(c, "id")
	if !ok {
		return utils.SendValidationError(c, "id", "must be a positive integer")
	}

	result, err := h.committer.Finalize(c.UserContext(), id, actingUser(c))
	if err != nil {
		return utils.SendPipelineError(c, err)
	}
	return c.JSON(result)
}

// Reject closes an open upload with a reason
func (h *UploadHandler) Reject(c *fiber.Ctx) error {
	id, ok := uploadIDParam(c, "id")
	if !ok {
		return utils.SendValidationError(c, "id", "must be a positive integer")
	}

	var req rejectRequest
	if ok, err := bindJSON(c, &req); !ok {
		return err
	}

	upload, err := h.pipeline.Reject(c.UserContext(), id, req.Reason, actingUser(c))
	if err != nil {
		return utils.SendPipelineError(c, err)
	}
	return c.JSON(fiber.Map{"upload": upload})
}

// Events returns the persisted stage events of an upload, newest first
func (h *UploadHandler) Events(c *fiber.Ctx) error {
	upload, ok, err := h.loadUpload(c)
	if !ok {
		return err
	}

	page := pagination.FromQuery(c)
	if h.journal == nil {
		return c.JSON(fiber.Map{
			"data":       []logging.PipelineEvent{},
			"pagination": page.Meta(0),
		})
	}

	events, total, err := h.journal.Query(c.UserContext(), logging.JournalFilter{
		UploadID: upload.ID,
		Level:    c.Query("level"),
		Stage:    c.Query("stage"),
		Offset:   page.Offset(),
		Limit:    page.Size,
	})
	if err != nil {
		return utils.SendInternalServerError(c, "Failed to query events")
	}

	return c.JSON(fiber.Map{
		"data":       events,
		"pagination": page.Meta(total),
	})
}

// loadUpload resolves the :id parameter. When ok is false the response has
// been written and err is what the handler should return.
func (h *UploadHandler) loadUpload(c *fiber.Ctx) (*models.UploadArtifact, bool, error) {
	id, ok := uploadIDParam(c, "id")
	if !ok {
		return nil, false, utils.SendValidationError(c, "id", "must be a positive integer")
	}

	upload, err := h.store.Uploads().Get(c.UserContext(), id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, false, utils.SendNotFoundError(c, "upload")
	}
	if err != nil {
		return nil, false, utils.SendInternalServerError(c, "Failed to load upload")
	}
	return upload, true, nil
}

// actingUser is the authenticated username recorded on audit fields
func actingUser(c *fiber.Ctx) string {
	if user, ok := middleware.GetUserFromContext(c); ok {
		return user.Username
	}
	return ""
}
