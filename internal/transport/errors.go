// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package transport

import (
	"errors"
	"fmt"
)

var (
	// ErrNotStarted is returned by Reconfigure before Start.
	ErrNotStarted = errors.New("transport not started")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("transport closed")

	// ErrAlreadyStarted is returned by a second Start.
	ErrAlreadyStarted = errors.New("transport already started")

	// ErrStreamUnsupported is returned when no stream dialer is configured.
	ErrStreamUnsupported = errors.New("streaming not supported by this source")

	// ErrStreamClosed is returned by Stream.Next when the server ends the stream.
	ErrStreamClosed = errors.New("stream closed by server")

	// ErrEventTooLarge is returned when an SSE line exceeds MaxEventSize.
	ErrEventTooLarge = errors.New("stream event exceeds size limit")
)

// streamFailedMessage is the status message shown after a stream failure.
const streamFailedMessage = "stream connection failed"

// HTTPError is a non-2xx response from the event source.
type HTTPError struct {
	Status int
	Body   string
}

// Error implements the error interface.
func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d", e.Status)
}

// IsHTTPStatus reports whether err is an HTTPError with the given status.
func IsHTTPStatus(err error, status int) bool {
	var he *HTTPError
	return errors.As(err, &he) && he.Status == status
}
