package models

import "time"

// UploadedFile is a document registry entry. Only Analysis changes after
// creation, and it is always replaced as a whole.
type UploadedFile struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	FileName   string        `json:"fileName"`
	MimeType   string        `json:"mimeType"`
	Size       int64         `json:"size"`
	BlobURL    string        `json:"blobUrl"`
	UploadTime time.Time     `json:"uploadTime"`
	SessionID  string        `json:"sessionId"`
	Analysis   *FileAnalysis `json:"analysis,omitempty"`
}

// IsImage reports whether the file goes down the image analysis branch.
func (f *UploadedFile) IsImage() bool {
	return IsImageType(f.MimeType)
}

// ObjectInfo describes one stored blob.
type ObjectInfo struct {
	Name         string    `json:"name"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"lastModified"`
	ContentType  string    `json:"contentType,omitempty"`
	URL          string    `json:"url,omitempty"`
}
