package api

import (
	"bytes"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// =============================================================================
// Security Headers Middleware
// =============================================================================

// SecurityHeadersMiddleware adds security headers for JSON API responses
func SecurityHeadersMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Cache-Control", "no-store, no-cache, must-revalidate")
		c.Header("Pragma", "no-cache")
		c.Next()
	}
}

// =============================================================================
// Request Size Limit Middleware
// =============================================================================

// MaxBodySize is the default maximum request body size (1MB)
const MaxBodySize = 1 << 20

// BodySizeLimitMiddleware limits the request body size
func BodySizeLimitMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > maxSize {
			Abort(c, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("Request body too large. Maximum size is %d bytes.", maxSize))
			return
		}
		// Clients can lie about Content-Length
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// =============================================================================
// Compressed Request Bodies
// =============================================================================

// DecompressMiddleware decodes gzip and zstd request bodies. The decoded
// size is capped at maxSize so a small compressed body cannot expand
// without bound.
func DecompressMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		enc := strings.ToLower(strings.TrimSpace(c.GetHeader("Content-Encoding")))
		if enc == "" || enc == "identity" || c.Request.Body == nil {
			c.Next()
			return
		}

		raw, err := io.ReadAll(c.Request.Body)
		if err != nil {
			Abort(c, http.StatusRequestEntityTooLarge, "Request body too large")
			return
		}
		decoded, err := decodeBody(enc, raw, maxSize)
		if err != nil {
			if errors.Is(err, errTooLarge) {
				Abort(c, http.StatusRequestEntityTooLarge,
					fmt.Sprintf("Decoded body too large. Maximum size is %d bytes.", maxSize))
				return
			}
			Abort(c, http.StatusBadRequest, err.Error())
			return
		}

		c.Request.Body = io.NopCloser(bytes.NewReader(decoded))
		c.Request.ContentLength = int64(len(decoded))
		c.Request.Header.Del("Content-Encoding")
		c.Request.Header.Del("Content-Length")
		c.Next()
	}
}

var errTooLarge = errors.New("decoded body exceeds limit")

func decodeBody(enc string, raw []byte, maxSize int64) ([]byte, error) {
	var r io.Reader
	switch enc {
	case "gzip", "x-gzip":
		gr, err := gzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("invalid gzip body: %w", err)
		}
		defer gr.Close()
		r = gr
	case "zstd":
		dec, err := zstd.NewReader(bytes.NewReader(raw), zstd.WithDecoderConcurrency(1))
		if err != nil {
			return nil, fmt.Errorf("invalid zstd body: %w", err)
		}
		defer dec.Close()
		r = dec
	default:
		return nil, fmt.Errorf("unsupported content encoding %q", enc)
	}

	out, err := io.ReadAll(io.LimitReader(r, maxSize+1))
	if err != nil {
		if int64(len(out)) > maxSize {
			return nil, errTooLarge
		}
		return nil, fmt.Errorf("invalid %s body: %w", enc, err)
	}
	if int64(len(out)) > maxSize {
		return nil, errTooLarge
	}
	return out, nil
}

// =============================================================================
// Request IDs
// =============================================================================

// RequestIDHeader carries the caller's correlation id.
const RequestIDHeader = "X-Request-ID"

// RequestIDKey is the gin context key holding the request id.
const RequestIDKey = "request_id"

// RequestIDMiddleware accepts a caller-supplied request id or generates
// one, and echoes it on the response.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" || len(id) > 128 {
			id = uuid.New().String()
		}
		c.Set(RequestIDKey, id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

// RequestID returns the id set by RequestIDMiddleware, or "".
func RequestID(c *gin.Context) string {
	return c.GetString(RequestIDKey)
}

// =============================================================================
// Bearer Token Auth
// =============================================================================

// BearerAuthMiddleware requires "Authorization: Bearer <token>". An empty
// token disables the endpoints entirely rather than leaving them open.
func BearerAuthMiddleware(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" {
			Abort(c, http.StatusForbidden, "Management API disabled: no API token configured")
			return
		}
		auth := c.GetHeader("Authorization")
		got, ok := strings.CutPrefix(auth, "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(strings.TrimSpace(got)), []byte(token)) != 1 {
			c.Header("WWW-Authenticate", `Bearer realm="sentinel"`)
			Abort(c, http.StatusUnauthorized, "Unauthorized")
			return
		}
		c.Next()
	}
}
