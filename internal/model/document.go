package model

import "path/filepath"

// MediaKind is the document type detected from the file extension.
type MediaKind string

const (
	KindPDF  MediaKind = "pdf"
	KindJPG  MediaKind = "jpg"
	KindPNG  MediaKind = "png"
	KindHEIC MediaKind = "heic"
)

// ContentType returns the MIME type sent to the watermarking service.
func (k MediaKind) ContentType() string {
	switch k {
	case KindPDF:
		return "application/pdf"
	case KindJPG:
		return "image/jpeg"
	case KindPNG:
		return "image/png"
	case KindHEIC:
		return "image/heic"
	default:
		return "application/octet-stream"
	}
}

// DocumentStatus is the processing status of a single local document.
type DocumentStatus string

const (
	DocPending    DocumentStatus = "pending"
	DocSubmitted  DocumentStatus = "submitted"
	DocProcessing DocumentStatus = "processing"
	DocDone       DocumentStatus = "done"
	DocFailed     DocumentStatus = "failed"
)

// Document is a local file selected for watermarking.
type Document struct {
	Path       string         `json:"path"`        // absolute or folder-joined path on disk
	RelPath    string         `json:"rel_path"`    // path relative to the scanned folder
	OutputName string         `json:"output_name"` // name under the output directory
	Kind       MediaKind      `json:"kind"`
	Size       int64          `json:"size"`
	Status     DocumentStatus `json:"status"`
}

// Name returns the base name of the document.
func (d Document) Name() string {
	return filepath.Base(d.Path)
}

// Skip is a file that was not selected for processing.
type Skip struct {
	Path    string `json:"path"`
	RelPath string `json:"rel_path"`
	Reason  error  `json:"-"`
}
