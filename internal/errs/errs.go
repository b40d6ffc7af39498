// Package errs defines the error kinds surfaced by the ingestion pipeline.
//
// Every failure at a stage boundary is translated into exactly one Kind so that
// handlers, the CLI and the worker can react to it without string matching.
package errs

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Kind classifies a pipeline error
type Kind string

const (
	KindValidation       Kind = "validation"
	KindDuplicate        Kind = "duplicate"
	KindSchema           Kind = "schema"
	KindThreshold        Kind = "threshold"
	KindAlreadyFinalized Kind = "already_finalized"
	KindState            Kind = "state"
	KindNotFound         Kind = "not_found"
	KindEmptyReport      Kind = "empty_report"
	KindStorage          Kind = "storage"
	KindDatabase         Kind = "database"
)

// Stage names used in error and log context
const (
	StageIntake   = "intake"
	StageParse    = "parse"
	StageLinkage  = "linkage"
	StageGate     = "gate"
	StageFinalize = "finalize"
	StageLedger   = "ledger"
	StageReview   = "review"
	StageReaper   = "reaper"
)

// Error carries a Kind plus the structured context of where it happened
type Error struct {
	Kind      Kind
	Op        string
	Stage     string
	UploadID  int64
	RowNumber int
	Message   string
	Err       error
	Meta      map[string]interface{}
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	if e.Message != "" {
		b.WriteString(e.Message)
	} else {
		b.WriteString(string(e.Kind))
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// WithUpload sets the upload id on the error
func (e *Error) WithUpload(id int64) *Error {
	e.UploadID = id
	return e
}

// WithRow sets the row number on the error
func (e *Error) WithRow(n int) *Error {
	e.RowNumber = n
	return e
}

// WithStage sets the pipeline stage on the error
func (e *Error) WithStage(stage string) *Error {
	e.Stage = stage
	return e
}

// WithMeta attaches a metadata value
func (e *Error) WithMeta(key string, value interface{}) *Error {
	if e.Meta == nil {
		e.Meta = make(map[string]interface{})
	}
	e.Meta[key] = value
	return e
}

// New creates an error of the given kind
func New(kind Kind, op, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps err with a kind. A nil err returns nil.
func Wrap(kind Kind, op string, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Validation reports bad input; no state was changed
func Validation(op, format string, args ...interface{}) *Error {
	return New(KindValidation, op, format, args...)
}

// DuplicateUpload reports that identical content already exists as existingID
func DuplicateUpload(op string, existingID int64, hash string) *Error {
	return New(KindDuplicate, op, "content already uploaded as upload %d", existingID).
		WithMeta("existing_upload_id", existingID).
		WithMeta("content_hash", hash)
}

// SchemaDetection reports that required columns could not be identified
func SchemaDetection(op string, missing []string) *Error {
	return New(KindSchema, op, "required columns not found: %s", strings.Join(missing, ", ")).
		WithStage(StageParse).
		WithMeta("missing_columns", missing)
}

// ThresholdNotMet reports a linkage rate below the finalize threshold
func ThresholdNotMet(op string, rate, threshold float64) *Error {
	return New(KindThreshold, op, "linkage rate %.1f%% is below the required %.1f%%", rate, threshold).
		WithStage(StageGate).
		WithMeta("linkage_rate", rate).
		WithMeta("threshold", threshold)
}

// AlreadyFinalized reports a finalize call on a finalized upload
func AlreadyFinalized(op string, uploadID int64) *Error {
	return New(KindAlreadyFinalized, op, "upload %d is already finalized", uploadID).
		WithUpload(uploadID).
		WithStage(StageFinalize)
}

// InvalidTransition reports an operation that the upload's current status does not allow
func InvalidTransition(op string, uploadID int64, from, to string) *Error {
	return New(KindState, op, "upload %d cannot move from %s to %s", uploadID, from, to).
		WithUpload(uploadID).
		WithMeta("status", from)
}

// NotFound reports a missing entity
func NotFound(op, entity string, id interface{}) *Error {
	return New(KindNotFound, op, "%s %v not found", entity, id)
}

// EmptyReport reports a linkage evaluation over zero rows
func EmptyReport(op string) *Error {
	return New(KindEmptyReport, op, "report has no rows").WithStage(StageGate)
}

// Storage wraps a filesystem failure
func Storage(op string, err error) *Error {
	return Wrap(KindStorage, op, err)
}

// Database wraps a database failure
func Database(op string, err error) *Error {
	return Wrap(KindDatabase, op, err)
}

// As returns the first *Error in err's chain
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the kind of err, or "" when err carries none
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return ""
}

// Is reports whether err carries the given kind
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// HTTPStatus maps an error to the response code handlers return
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusUnprocessableEntity
	case KindDuplicate, KindAlreadyFinalized, KindState:
		return http.StatusConflict
	case KindSchema, KindThreshold, KindEmptyReport:
		return http.StatusUnprocessableEntity
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
