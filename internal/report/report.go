// Package report defines the outbound status/acknowledgement message
// shared by the ingress adapter, the dispatch loop and the heartbeat
// publisher.
package report

import (
	"context"
	"time"
)

// Code is the terminal or liveness status carried by a Status message.
type Code string

const (
	StatusAccepted Code = "accepted"
	StatusRejected Code = "rejected"
	StatusSuccess  Code = "success"
	StatusFailure  Code = "failure"
	StatusExpired  Code = "expired"
	StatusTimeout  Code = "timeout"

	// Liveness markers used by the heartbeat publisher.
	StatusAlive    Code = "alive"
	StatusDegraded Code = "degraded"
)

// Status is the wire shape published to the status topic. JobID is empty
// on heartbeats.
type Status struct {
	JobID         string `json:"job_id,omitempty"`
	Status        Code   `json:"status"`
	Detail        string `json:"detail"`
	QueueLen      int    `json:"queue_len"`
	PrinterStatus int    `json:"printer_status"`
	Timestamp     int64  `json:"timestamp"`
}

// New builds a Status stamped with the current time.
func New(jobID string, code Code, detail string, queueLen, printerStatus int) *Status {
	return &Status{
		JobID:         jobID,
		Status:        code,
		Detail:        detail,
		QueueLen:      queueLen,
		PrinterStatus: printerStatus,
		Timestamp:     time.Now().Unix(),
	}
}

// Publisher emits Status messages to the transport.
type Publisher interface {
	Publish(ctx context.Context, st *Status) error
}
