package models

// SessionStatus represents the status of a decode session.
type SessionStatus string

const (
	SessionStatusPending  SessionStatus = "pending"
	SessionStatusDecoding SessionStatus = "decoding"
	SessionStatusComplete SessionStatus = "complete"
	SessionStatusError    SessionStatus = "error"
)

// Done reports whether the session has stopped running.
func (s SessionStatus) Done() bool {
	return s == SessionStatusComplete || s == SessionStatusError
}

// DecodeSession represents one decode of an uploaded recording.
type DecodeSession struct {
	ID               string        `json:"id"`
	FileID           string        `json:"fileId"`
	Status           SessionStatus `json:"status"`
	Progress         float64       `json:"progress"` // 0-100
	BytesRead        int64         `json:"bytesRead"`
	DeviceCount      int           `json:"deviceCount,omitempty"`
	TrackCount       int           `json:"trackCount,omitempty"`
	RecordCount      int           `json:"recordCount,omitempty"`
	Truncated        bool          `json:"truncated,omitempty"`
	Persisted        bool          `json:"persisted,omitempty"`
	ProcessingTimeMs int64         `json:"processingTimeMs,omitempty"`
	StartTime        float64       `json:"startTime,omitempty"` // epoch seconds of the earliest record
	EndTime          float64       `json:"endTime,omitempty"`
	Errors           []DecodeError `json:"errors,omitempty"`
}

// DecodeError describes why a decode failed.
type DecodeError struct {
	Offset int64  `json:"offset,omitempty"`
	Packet string `json:"packet,omitempty"`
	Reason string `json:"reason"`
}

// NewDecodeSession creates a new DecodeSession in pending status.
func NewDecodeSession(id, fileID string) *DecodeSession {
	return &DecodeSession{
		ID:     id,
		FileID: fileID,
		Status: SessionStatusPending,
		Errors: make([]DecodeError, 0),
	}
}
