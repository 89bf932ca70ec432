// File: internal/network/compression.go
package network

import (
	"compress/gzip"
	"compress/zlib"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"
)

// CompressionMiddleware wraps an http.RoundTripper to decode response bodies.
// The transport's own negotiation is disabled so the session can advertise the
// browser's exact Accept-Encoding value; that leaves decoding to us.
type CompressionMiddleware struct {
	Transport http.RoundTripper
}

// NewCompressionMiddleware creates the middleware wrapper.
func NewCompressionMiddleware(transport http.RoundTripper) *CompressionMiddleware {
	if transport == nil {
		transport = http.DefaultTransport
	}
	return &CompressionMiddleware{
		Transport: transport,
	}
}

// RoundTrip executes a single HTTP transaction, handling compression negotiation.
func (cm *CompressionMiddleware) RoundTrip(req *http.Request) (*http.Response, error) {
	// Advertise modern algorithms if the caller has not pinned its own value.
	if req.Header.Get("Accept-Encoding") == "" {
		req.Header.Set("Accept-Encoding", "gzip, deflate, br")
	}

	resp, err := cm.Transport.RoundTrip(req)
	if err != nil {
		return nil, err
	}

	if err := DecompressResponse(resp); err != nil {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("failed to decompress response: %w", err)
	}

	return resp, nil
}

// closeWrapper ensures both the decompression reader and the underlying original body are closed.
type closeWrapper struct {
	io.ReadCloser
	originalBody io.ReadCloser
}

func (w *closeWrapper) Close() error {
	err1 := w.ReadCloser.Close()
	err2 := w.originalBody.Close()
	if err1 != nil {
		return err1
	}
	return err2
}

// DecompressResponse checks the Content-Encoding header and wraps the response body.
func DecompressResponse(resp *http.Response) error {
	if resp == nil || resp.Body == nil || resp.Header.Get("Content-Encoding") == "" {
		return nil
	}

	encoding := strings.ToLower(resp.Header.Get("Content-Encoding"))
	var reader io.ReadCloser
	var err error

	switch encoding {
	case "identity":
		return nil
	case "gzip":
		reader, err = gzip.NewReader(resp.Body)
		if err != nil {
			return fmt.Errorf("gzip error: %w", err)
		}
	case "deflate":
		// zlib.NewReader handles the common zlib-wrapped deflate servers send.
		reader, err = zlib.NewReader(resp.Body)
		if err != nil {
			return fmt.Errorf("deflate error: %w", err)
		}
	case "br":
		// The brotli reader is not an io.ReadCloser; the closeWrapper closes
		// the underlying body.
		reader = io.NopCloser(brotli.NewReader(resp.Body))
	default:
		// We advertised support, but the server sent something else.
		return fmt.Errorf("unsupported Content-Encoding: %s", encoding)
	}

	resp.Body = &closeWrapper{ReadCloser: reader, originalBody: resp.Body}
	// Update headers to reflect the decompressed state.
	resp.Header.Del("Content-Encoding")
	resp.ContentLength = -1
	resp.Header.Del("Content-Length")
	resp.Uncompressed = true

	return nil
}
