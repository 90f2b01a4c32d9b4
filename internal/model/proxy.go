// Package model defines shared types for the rotator.
package model

import (
	"io"
	"net/http"
)

// ForwardRequest is an immutable snapshot of a client request. The body is
// fully buffered so the same snapshot can be replayed on every retry attempt.
type ForwardRequest struct {
	Method string
	Path   string
	Header http.Header
	Body   []byte
}

// UpstreamResult is the outcome of one upstream dispatch. Exactly one of
// Body or Stream is populated: Body carries a fully buffered payload,
// Stream carries a live, still-draining response body. A Stream is only
// handed out once the status has been confirmed relayable; ownership of it
// transfers to whoever relays it to the client.
type UpstreamResult struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Stream     io.ReadCloser
}

// Streaming reports whether the result carries a live body stream.
func (r *UpstreamResult) Streaming() bool {
	return r.Stream != nil
}

// Close releases the live stream, if any. Buffered results are no-ops.
func (r *UpstreamResult) Close() error {
	if r.Stream != nil {
		return r.Stream.Close()
	}
	return nil
}
