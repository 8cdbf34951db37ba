package models

import (
	"strings"
	"time"
)

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Hazard is a severity-tagged finding pulled out of free-text model output.
type Hazard struct {
	Severity    Severity `json:"severity"`
	Description string   `json:"description"`
	Category    string   `json:"category"`
}

// CriticalHazards returns the critical entries of hs, keeping their order.
func CriticalHazards(hs []Hazard) []Hazard {
	var out []Hazard
	for _, h := range hs {
		if h.Severity == SeverityCritical {
			out = append(out, h)
		}
	}
	return out
}

type AnalysisKind string

const (
	AnalysisImage    AnalysisKind = "image"
	AnalysisDocument AnalysisKind = "document"
	AnalysisEmpty    AnalysisKind = "empty"
)

// KindForType picks the pipeline branch for a MIME type.
func KindForType(mimeType string) AnalysisKind {
	switch {
	case IsImageType(mimeType):
		return AnalysisImage
	case IsDocumentType(mimeType):
		return AnalysisDocument
	default:
		return AnalysisEmpty
	}
}

func IsImageType(mimeType string) bool {
	return strings.HasPrefix(strings.ToLower(mimeType), "image/")
}

// IsDocumentType covers PDF and the OOXML "document" types. Plain text and
// legacy .doc are not accepted by document analysis and take the empty branch.
func IsDocumentType(mimeType string) bool {
	mt := strings.ToLower(mimeType)
	return mt == "application/pdf" || strings.Contains(mt, "document")
}

type Tag struct {
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
}

type Category struct {
	Name  string  `json:"name"`
	Score float64 `json:"score"`
}

type BoundingBox struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

type DetectedObject struct {
	Name        string      `json:"name"`
	Confidence  float64     `json:"confidence"`
	BoundingBox BoundingBox `json:"boundingBox"`
}

// ImageTags is the result of the generic tagging/object detection call.
type ImageTags struct {
	Description string           `json:"description"`
	Tags        []Tag            `json:"tags"`
	Objects     []DetectedObject `json:"objects"`
	Categories  []Category       `json:"categories"`
}

// ImageAnalysis joins the hazard analysis text with the tagging result.
type ImageAnalysis struct {
	HazardAnalysis string     `json:"hazardAnalysis"`
	Tags           *ImageTags `json:"tags"`
}

type TableCell struct {
	RowIndex    int    `json:"rowIndex"`
	ColumnIndex int    `json:"columnIndex"`
	Text        string `json:"text"`
	IsHeader    bool   `json:"isHeader"`
}

type Table struct {
	RowCount    int         `json:"rowCount"`
	ColumnCount int         `json:"columnCount"`
	Cells       []TableCell `json:"cells"`
}

type KeyValuePair struct {
	Key        string  `json:"key"`
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
}

type Entity struct {
	Text        string  `json:"text"`
	Category    string  `json:"category"`
	SubCategory string  `json:"subCategory,omitempty"`
	Confidence  float64 `json:"confidence"`
}

type DocumentAnalysis struct {
	ExtractedText string         `json:"extractedText"`
	Tables        []Table        `json:"tables"`
	Entities      []Entity       `json:"entities"`
	KeyValuePairs []KeyValuePair `json:"keyValuePairs"`
	Confidence    float64        `json:"confidence"`
}

// AnalysisResult is produced once per pipeline run. Exactly one of Image and
// Document is set when Kind is image or document; neither when Kind is empty.
type AnalysisResult struct {
	Kind       AnalysisKind      `json:"kind"`
	Image      *ImageAnalysis    `json:"image,omitempty"`
	Document   *DocumentAnalysis `json:"document,omitempty"`
	Hazards    []Hazard          `json:"hazards"`
	Embedding  []float32         `json:"-"`
	AnalyzedAt time.Time         `json:"analyzedAt"`
}

// Text returns the best available free text: the hazard analysis for images,
// the extracted text for documents, nothing otherwise.
func (r *AnalysisResult) Text() string {
	if r == nil {
		return ""
	}
	switch r.Kind {
	case AnalysisImage:
		if r.Image != nil {
			return r.Image.HazardAnalysis
		}
	case AnalysisDocument:
		if r.Document != nil {
			return r.Document.ExtractedText
		}
	case AnalysisEmpty:
	}
	return ""
}

// FileAnalysis is the client facing analysis attached to an UploadedFile.
type FileAnalysis struct {
	Type        string     `json:"type"`
	Status      string     `json:"status"`
	Description string     `json:"description,omitempty"`
	Message     string     `json:"message,omitempty"`
	JobID       string     `json:"jobId,omitempty"`
	Error       string     `json:"error,omitempty"`
	ProcessedAt *time.Time `json:"processedAt,omitempty"`

	Content    string           `json:"content,omitempty"`
	Objects    []DetectedObject `json:"objects,omitempty"`
	Tags       []Tag            `json:"tags,omitempty"`
	Categories []Category       `json:"categories,omitempty"`
	Hazards    []Hazard         `json:"hazards,omitempty"`

	ExtractedText string         `json:"extractedText,omitempty"`
	Entities      []Entity       `json:"entities,omitempty"`
	KeyValuePairs []KeyValuePair `json:"keyValuePairs,omitempty"`
	Tables        []Table        `json:"tables,omitempty"`
	Confidence    float64        `json:"confidence,omitempty"`
}

const (
	AnalysisTypeImage                = "image_analysis"
	AnalysisTypeDocument             = "document"
	AnalysisTypeDocumentIntelligence = "document_intelligence"
	AnalysisTypeEmpty                = "none"

	StatusQueued    = "queued"
	StatusUploaded  = "uploaded"
	StatusCompleted = "completed"
	StatusProcessed = "processed"
	StatusPending   = "pending"
	StatusFailed    = "failed"

	NoDescription = "No description available"
)

// View converts a pipeline result into the registry/client representation.
func (r *AnalysisResult) View() *FileAnalysis {
	at := r.AnalyzedAt
	view := &FileAnalysis{
		Status:      StatusCompleted,
		ProcessedAt: &at,
		Hazards:     r.Hazards,
	}
	switch r.Kind {
	case AnalysisImage:
		view.Type = AnalysisTypeImage
		view.Description = NoDescription
		if r.Image != nil {
			view.Content = r.Image.HazardAnalysis
			if t := r.Image.Tags; t != nil {
				if t.Description != "" {
					view.Description = t.Description
				}
				view.Objects = t.Objects
				view.Tags = t.Tags
				view.Categories = t.Categories
			}
		}
	case AnalysisDocument:
		view.Type = AnalysisTypeDocument
		if d := r.Document; d != nil {
			view.ExtractedText = d.ExtractedText
			view.Entities = d.Entities
			view.KeyValuePairs = d.KeyValuePairs
			view.Tables = d.Tables
			view.Confidence = d.Confidence
		}
	default:
		view.Type = AnalysisTypeEmpty
		view.Message = "No analysis available for this file type"
	}
	return view
}

// PendingAnalysis is the placeholder attached at upload time.
func PendingAnalysis(mimeType, jobID string) *FileAnalysis {
	if IsImageType(mimeType) {
		return &FileAnalysis{
			Type:        AnalysisTypeImage,
			Status:      StatusQueued,
			Description: NoDescription,
			JobID:       jobID,
		}
	}
	return &FileAnalysis{
		Type:    AnalysisTypeDocument,
		Status:  StatusUploaded,
		Message: "Document ready for processing",
		JobID:   jobID,
	}
}
