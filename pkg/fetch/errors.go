package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"syscall"
)

var (
	// ErrInvalidRequest is returned for URLs that do not use https.
	ErrInvalidRequest = errors.New("invalid request: only https URLs are allowed")
	// ErrUnsuccessfulResponse is returned for any non-2xx status code.
	ErrUnsuccessfulResponse = errors.New("response is unsuccessful")
	// ErrMissingBody is returned when a response carries no body.
	ErrMissingBody = errors.New("response is unsuccessful: body is missing")
	// ErrBodyTooLarge is returned when an in-memory response exceeds
	// MaxSmallBodySize.
	ErrBodyTooLarge = errors.New("response body is too large")
)

// NetworkError is the single error family returned by the Downloader. Every
// failure, whether I/O, a malformed argument or an HTTP problem, is wrapped
// into it at the Downloader boundary.
type NetworkError struct {
	Op  string
	URL string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s of %s failed: %v", e.Op, e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// RateLimitError is returned when the rate limited API host answers 403.
type RateLimitError struct {
	URL        string
	StatusCode int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("API rate limit exceeded for %s (response code is %d)", e.URL, e.StatusCode)
}

// Category tells the orchestrator which notification to raise for a failure.
type Category int

const (
	// CategoryOther covers everything that is not clearly network related.
	CategoryOther Category = iota
	// CategoryNetwork covers connectivity, HTTP and rate limit failures.
	CategoryNetwork
)

func (c Category) String() string {
	if c == CategoryNetwork {
		return "network"
	}
	return "other"
}

// Classify determines the notification category of err.
func Classify(err error) Category {
	if err == nil {
		return CategoryOther
	}
	var ne *NetworkError
	if errors.As(err, &ne) {
		return CategoryNetwork
	}
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return CategoryNetwork
	}
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, io.ErrUnexpectedEOF) {
		return CategoryNetwork
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return CategoryNetwork
	}
	var sysErr syscall.Errno
	if errors.As(err, &sysErr) {
		switch sysErr {
		case syscall.ECONNRESET, syscall.ECONNREFUSED, syscall.ENETUNREACH, syscall.EHOSTUNREACH, syscall.EPIPE:
			return CategoryNetwork
		}
	}
	msg := strings.ToLower(err.Error())
	for _, pattern := range []string{
		"connection reset",
		"connection refused",
		"no such host",
		"network is unreachable",
		"tls handshake",
	} {
		if strings.Contains(msg, pattern) {
			return CategoryNetwork
		}
	}
	return CategoryOther
}
