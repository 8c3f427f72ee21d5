package exchange

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/adshao/go-binance/v2/common"
	"github.com/tidwall/gjson"
)

// Outcome classifies an exchange call result. The execution layer only ever
// acts on this classification, never on raw errors.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeRetryable
	OutcomeTerminal
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeRetryable:
		return "retryable"
	case OutcomeTerminal:
		return "terminal"
	default:
		return "unknown"
	}
}

// TransientError wraps network and rate-limit failures that are safe to
// retry with backoff.
type TransientError struct {
	Cause error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient exchange error: %v", e.Cause)
}

func (e *TransientError) Unwrap() error { return e.Cause }

// Transient wraps err as retryable.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Cause: err}
}

// RejectionError is a venue rejection (invalid size, insufficient balance).
// Terminal: retrying the same request blindly can only make things worse.
type RejectionError struct {
	Code    int64
	Message string
}

func (e *RejectionError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("exchange rejection (code %d): %s", e.Code, e.Message)
	}
	return fmt.Sprintf("exchange rejection: %s", e.Message)
}

// Reject builds a terminal rejection error.
func Reject(code int64, msg string) error {
	return &RejectionError{Code: code, Message: msg}
}

// binance error codes that indicate throttling or venue-side trouble rather
// than a bad request.
var retryableBinanceCodes = map[int64]bool{
	-1000: true, // UNKNOWN
	-1001: true, // DISCONNECTED
	-1003: true, // TOO_MANY_REQUESTS
	-1007: true, // TIMEOUT
	-1016: true, // SERVICE_SHUTTING_DOWN
}

// Classify maps an error from any Exchange implementation onto an Outcome.
func Classify(err error) Outcome {
	if err == nil {
		return OutcomeSuccess
	}
	var rej *RejectionError
	if errors.As(err, &rej) {
		return OutcomeTerminal
	}
	var tr *TransientError
	if errors.As(err, &tr) {
		return OutcomeRetryable
	}
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		if retryableBinanceCodes[apiErr.Code] {
			return OutcomeRetryable
		}
		return OutcomeTerminal
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return OutcomeRetryable
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return OutcomeRetryable
	}
	// Some transports surface the venue's JSON error body inside a plain
	// error string; probe it for a binance-style code before giving up.
	if code := probeErrorCode(err.Error()); code != 0 {
		if retryableBinanceCodes[code] {
			return OutcomeRetryable
		}
		return OutcomeTerminal
	}
	return OutcomeRetryable
}

func probeErrorCode(msg string) int64 {
	start := strings.Index(msg, "{")
	if start < 0 {
		return 0
	}
	body := msg[start:]
	if !gjson.Valid(body) {
		return 0
	}
	return gjson.Get(body, "code").Int()
}
