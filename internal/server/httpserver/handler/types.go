package handler

import (
	"time"

	"github.com/yndnr/dtnmesh-go/internal/core/domain"
)

// Response is the standard API response envelope.
// All JSON responses use this format (except /metrics which uses Prometheus format).
type Response struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id"`
	Timestamp int64  `json:"timestamp"`
	Data      any    `json:"data,omitempty"`
	Details   any    `json:"details,omitempty"` // Additional error details
}

// NewResponse creates a success response.
func NewResponse(requestID string, data any) *Response {
	return &Response{
		Code:      "OK",
		Message:   "Success",
		RequestID: requestID,
		Timestamp: time.Now().UnixMilli(),
		Data:      data,
	}
}

// NewErrorResponse creates an error response.
func NewErrorResponse(requestID, code, message string, details any) *Response {
	return &Response{
		Code:      code,
		Message:   message,
		RequestID: requestID,
		Timestamp: time.Now().UnixMilli(),
		Details:   details,
	}
}

// Times in request bodies are RFC 3339 timestamps, "+<duration>" offsets
// from the time of the request, or raw DTN milliseconds.

// ContactRequest is the request body for POST /admin/v1/contacts.
type ContactRequest struct {
	Region   uint32 `json:"region,omitempty"`
	From     string `json:"from"`
	To       string `json:"to"`
	FromNode uint64 `json:"from_node"`
	ToNode   uint64 `json:"to_node"`
	Rate     uint64 `json:"rate"`

	// Confidence defaults to 1.
	Confidence *float64 `json:"confidence,omitempty"`
}

// ContactKeyRequest addresses contacts or ranges. An empty From matches
// every record of the node pair.
type ContactKeyRequest struct {
	Region   uint32 `json:"region,omitempty"`
	FromNode uint64 `json:"from_node"`
	ToNode   uint64 `json:"to_node"`
	From     string `json:"from,omitempty"`
}

// ReviseContactRequest is the request body for POST /admin/v1/contacts/revise.
type ReviseContactRequest struct {
	ContactKeyRequest
	Rate       *uint64  `json:"rate,omitempty"`
	Confidence *float64 `json:"confidence,omitempty"`
}

// RangeRequest is the request body for POST /admin/v1/ranges.
type RangeRequest struct {
	Region   uint32 `json:"region,omitempty"`
	From     string `json:"from"`
	To       string `json:"to"`
	FromNode uint64 `json:"from_node"`
	ToNode   uint64 `json:"to_node"`
	OWLT     uint32 `json:"owlt"`
}

// RemovedResponse reports how many records a removal touched.
type RemovedResponse struct {
	Removed int `json:"removed"`
}

// PlanRequest is the request body for POST /admin/v1/plans. With Replace
// set an existing plan is updated instead of rejected.
type PlanRequest struct {
	domain.Plan
	Replace bool `json:"replace,omitempty"`
}

// DuctRequest is the request body for POST /admin/v1/ducts.
type DuctRequest struct {
	Name     string `json:"name"`
	Protocol string `json:"protocol"`
	Neighbor uint64 `json:"neighbor"`
	Address  string `json:"address,omitempty"`
	Rate     uint64 `json:"rate,omitempty"`
	Blocked  bool   `json:"blocked,omitempty"`
}

// ReleasedResponse reports bundles released from limbo.
type ReleasedResponse struct {
	Released int `json:"released"`
}

// KinRequest is the request body for POST /admin/v1/kin.
type KinRequest struct {
	Node uint64 `json:"node"`
}

// KinResponse lists the multicast kin.
type KinResponse struct {
	Kin []uint64 `json:"kin"`
}

// SendBundleRequest is the request body for POST /admin/v1/bundles. The
// bundle is sent from the anonymous source.
type SendBundleRequest struct {
	Destination domain.EID `json:"destination"`
	ReportTo    domain.EID `json:"report_to,omitempty"`

	// Lifetime is a Go duration string.
	Lifetime string `json:"lifetime"`

	// Priority is bulk, standard or expedited; empty means standard.
	Priority string `json:"priority,omitempty"`
	Ordinal  uint8  `json:"ordinal,omitempty"`

	BestEffort     bool `json:"best_effort,omitempty"`
	MinimumLatency bool `json:"minimum_latency,omitempty"`

	// Reports names the status reports to request: received, forwarded,
	// delivered, deleted.
	Reports []string `json:"reports,omitempty"`

	// Payload is carried as base64 by encoding/json.
	Payload []byte `json:"payload"`
}

// SendBundleResponse identifies the created bundle.
type SendBundleResponse struct {
	ID       string                   `json:"id"`
	Source   domain.EID               `json:"source"`
	Creation domain.CreationTimestamp `json:"creation"`
}
