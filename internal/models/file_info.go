package models

import "time"

// FileStatus is the lifecycle state of an uploaded file.
type FileStatus string

const (
	FileStatusUploaded FileStatus = "uploaded"
	FileStatusDecoding FileStatus = "decoding"
	FileStatusDecoded  FileStatus = "decoded"
	FileStatusError    FileStatus = "error"
)

// FileInfo represents metadata about an uploaded recording.
type FileInfo struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Size       int64      `json:"size"`
	UploadedAt time.Time  `json:"uploadedAt"`
	Status     FileStatus `json:"status"`
	// IsVital is false when the upload does not carry a vital signature.
	IsVital bool `json:"isVital"`
}
