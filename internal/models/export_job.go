package models

import "time"

// ExportJobStatus tracks a background export through its lifecycle.
type ExportJobStatus string

const (
	ExportJobStatusQueued     ExportJobStatus = "QUEUED"
	ExportJobStatusProcessing ExportJobStatus = "PROCESSING"
	ExportJobStatusFinished   ExportJobStatus = "FINISHED"
	ExportJobStatusFailed     ExportJobStatus = "FAILED"
)

// ExportJob records an asynchronous roster export. The rendered file
// lives on disk under the export directory; ResultURL carries the
// signed download link once the job finishes.
type ExportJob struct {
	ID           string          `db:"id" json:"id"`
	Format       string          `db:"format" json:"format"`
	Status       ExportJobStatus `db:"status" json:"status"`
	Progress     int             `db:"progress" json:"progress"`
	FilePath     *string         `db:"file_path" json:"-"`
	ResultURL    *string         `db:"result_url" json:"result_url,omitempty"`
	ErrorMessage *string         `db:"error_message" json:"error,omitempty"`
	RequestedBy  string          `db:"requested_by" json:"requested_by"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
	FinishedAt   *time.Time      `db:"finished_at" json:"finished_at,omitempty"`
}
