package cache

import (
	"encoding/json"
	"time"
)

// Envelope is the unit stored for one cached response.
type Envelope struct {
	Body       json.RawMessage `json:"body"`
	StatusCode int             `json:"statusCode"`
	// Timestamp is the creation time in Unix milliseconds.
	Timestamp   int64  `json:"timestamp"`
	ContentType string `json:"contentType,omitempty"`
}

func NewEnvelope(body []byte, statusCode int, contentType string, now time.Time) Envelope {
	return Envelope{
		Body:        json.RawMessage(body),
		StatusCode:  statusCode,
		Timestamp:   now.UnixMilli(),
		ContentType: contentType,
	}
}

// Age returns the whole seconds elapsed since the envelope was written.
func (e Envelope) Age(now time.Time) int64 {
	age := (now.UnixMilli() - e.Timestamp) / 1000
	if age < 0 {
		return 0
	}
	return age
}

// Cacheable reports whether a response with this status may be stored.
func Cacheable(statusCode int) bool {
	return statusCode >= 200 && statusCode < 300
}
