// Package ledger registers accepted report files with the external content
// ledger. Registration is advisory: nothing in the pipeline waits on it.
package ledger

import (
	"context"
	"errors"
)

// ErrDisabled is returned when no ledger endpoint is configured
var ErrDisabled = errors.New("content ledger is disabled")

// FileInfo describes the stored artifact
type FileInfo struct {
	Filename  string `json:"filename"`
	Extension string `json:"extension"`
	MimeType  string `json:"mime_type"`
	ByteSize  int64  `json:"byte_size"`
}

// Registration is the payload sent to the ledger for one upload
type Registration struct {
	ContentHash    string            `json:"content_hash"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	FileInfo       FileInfo          `json:"file_info"`
	SourceRecordID int64             `json:"source_record_id"`
}

// Certificate is the ledger's acknowledgement of a registration
type Certificate struct {
	ID string `json:"certificate_id"`
}

// Registrar talks to the content ledger
type Registrar interface {
	Register(ctx context.Context, reg Registration) (*Certificate, error)
}
