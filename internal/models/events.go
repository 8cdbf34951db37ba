package models

// Realtime event names delivered to a session room.
const (
	EventFileProcessed          = "file-processed"
	EventCriticalHazardDetected = "critical-hazard-detected"
	EventFileProcessingError    = "file-processing-error"
)

// Client to server control messages.
const (
	EventJoinSession  = "join-session"
	EventLeaveSession = "leave-session"
)

type FileProcessedEvent struct {
	FileID   string        `json:"fileId"`
	FileName string        `json:"fileName"`
	Analysis *FileAnalysis `json:"analysis"`
}

type CriticalHazardEvent struct {
	FileID   string   `json:"fileId"`
	FileName string   `json:"fileName"`
	Hazards  []Hazard `json:"hazards"`
}

type FileProcessingErrorEvent struct {
	FileID   string `json:"fileId"`
	FileName string `json:"fileName"`
	JobID    string `json:"jobId,omitempty"`
	Error    string `json:"error"`
}
