package permission

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// PermissionType names the kind of operation an approval is asked for.
type PermissionType string

const (
	PermBash        PermissionType = "bash"
	PermExternalDir PermissionType = "external_directory"
)

// Response is a human decision on a pending request. Timeouts and aborts are
// not responses; they resolve a request as undetermined.
type Response string

const (
	ResponseOnce   Response = "once"
	ResponseAlways Response = "always"
	ResponseReject Response = "reject"
)

// ParseResponse accepts once, always or reject in any case.
func ParseResponse(s string) (Response, error) {
	switch r := Response(strings.ToLower(strings.TrimSpace(s))); r {
	case ResponseOnce, ResponseAlways, ResponseReject:
		return r, nil
	}
	return "", fmt.Errorf("invalid permission response %q (want once, always or reject)", s)
}

// Approves reports whether r lets the call proceed.
func (r Response) Approves() bool {
	return r == ResponseOnce || r == ResponseAlways
}

// Metadata describes the tool call an approval is asked for.
type Metadata struct {
	ToolName string         `json:"toolName"`
	Params   map[string]any `json:"params,omitempty"`
}

// Time holds request timestamps.
type Time struct {
	Created time.Time `json:"created"`
}

// Info is the immutable description of one approval request.
type Info struct {
	ID        string         `json:"id"`
	Type      PermissionType `json:"type"`
	SessionID string         `json:"sessionID"`
	MessageID string         `json:"messageID"`
	CallID    string         `json:"callID,omitempty"`
	Title     string         `json:"title"`
	Metadata  Metadata       `json:"metadata"`
	Time      Time           `json:"time"`
}

// AskContext bounds how long a request may stay pending. Cancellation comes
// from the context passed alongside it.
type AskContext struct {
	// Timeout of zero waits until the context is done.
	Timeout time.Duration `json:"timeout"`
	// AutoAllowOnTimeout turns an expired wait into an approval in Ask.
	// Caller cancellation is never an approval.
	AutoAllowOnTimeout bool `json:"autoAllowOnTimeout"`
}

// Resolution is the single outcome delivered for a request.
type Resolution struct {
	ID       string   `json:"id"`
	Response Response `json:"response,omitempty"`
	// Undetermined is set when the wait ended without a response.
	Undetermined bool `json:"undetermined"`
	// Cause is context.DeadlineExceeded or context.Canceled when Undetermined.
	Cause error `json:"-"`
}

// Approved reports whether a human approved the call.
func (r Resolution) Approved() bool {
	return !r.Undetermined && r.Response.Approves()
}

// TimedOut reports whether the wait ended because its deadline passed.
func (r Resolution) TimedOut() bool {
	return r.Undetermined && errors.Is(r.Cause, context.DeadlineExceeded)
}

// String renders the resolution as it appears in events.
func (r Resolution) String() string {
	if r.Undetermined {
		return "undetermined"
	}
	return string(r.Response)
}

// RejectedError is returned by Ask when the call may not proceed.
type RejectedError struct {
	ID        string
	SessionID string
	Type      PermissionType
	CallID    string
	Metadata  Metadata
	Message   string
	// Undetermined marks a denial caused by timeout or cancellation rather
	// than an explicit reject.
	Undetermined bool
	Cause        error
}

func (e *RejectedError) Error() string {
	return e.Message
}

func (e *RejectedError) Unwrap() error {
	return e.Cause
}

// IsRejectedError checks if an error is a permission rejection.
func IsRejectedError(err error) bool {
	var re *RejectedError
	return errors.As(err, &re)
}

func rejection(info Info, res Resolution) *RejectedError {
	e := &RejectedError{
		ID:           info.ID,
		SessionID:    info.SessionID,
		Type:         info.Type,
		CallID:       info.CallID,
		Metadata:     info.Metadata,
		Undetermined: res.Undetermined,
		Cause:        res.Cause,
	}
	switch {
	case !res.Undetermined:
		e.Message = "Permission rejected by user"
	case res.TimedOut():
		e.Message = "Permission request timed out"
	default:
		e.Message = "Permission request cancelled"
	}
	return e
}
