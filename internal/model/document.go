package model

import "time"

// DocumentStatus represents the current state of a document in the pipeline.
type DocumentStatus string

const (
	DocumentStatusUploaded         DocumentStatus = "uploaded"
	DocumentStatusProcessing       DocumentStatus = "processing"
	DocumentStatusProcessingAI     DocumentStatus = "processing_ai"
	DocumentStatusCompleted        DocumentStatus = "completed"
	DocumentStatusValidationFailed DocumentStatus = "validation_failed"
	DocumentStatusFailed           DocumentStatus = "failed"
)

// Terminal reports whether a document in this status will receive no
// further pipeline transitions.
func (s DocumentStatus) Terminal() bool {
	switch s {
	case DocumentStatusCompleted, DocumentStatusValidationFailed, DocumentStatusFailed:
		return true
	}
	return false
}

// Document is the unit of uploaded work flowing through the pipeline.
// Status is mutated only by the pipeline executor.
type Document struct {
	ID        string         `json:"id"`
	Filename  string         `json:"filename"`
	FilePath  string         `json:"file_path"`
	FileType  string         `json:"file_type"`
	Size      int64          `json:"size"`
	Status    DocumentStatus `json:"status"`
	Result    *ExtractionResult `json:"result,omitempty"`
	Error     string         `json:"error,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Route is the quality gate's extraction strategy decision.
type Route string

const (
	RouteOCRSufficient Route = "ocr_sufficient"
	RouteAIRequired    Route = "ai_required"
)

// ExtractionResult is the final structured output persisted for a document.
type ExtractionResult struct {
	Route      Route      `json:"route"`
	Confidence float64    `json:"confidence"`
	Text       string     `json:"text,omitempty"`
	Timetable  *Timetable `json:"timetable,omitempty"`
	Provider   string     `json:"provider,omitempty"`
	Model      string     `json:"model,omitempty"`
	Engine     string     `json:"engine,omitempty"`
}
