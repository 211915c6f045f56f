package domain

import "time"

// Frame is one unit of camera output. Data is treated as immutable once captured:
// it is handed to the uploader by reference and discarded after the send.
type Frame struct {
	Data        []byte
	ContentType string
	CapturedAt  time.Time
	TraceID     string
}
