package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	aggregator "github.com/JohnPlummer/jp-go-aggregator"
	"github.com/gin-gonic/gin"
)

// hopHeaders are not forwarded in either direction.
var hopHeaders = []string{
	"Connection",
	"Content-Length",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

type errorBody struct {
	Error      string `json:"error"`
	Dependency string `json:"dependency"`
	Outcome    string `json:"outcome"`
	RequestID  string `json:"request_id,omitempty"`
}

func (s *Server) proxy(c *gin.Context) {
	dependency := c.Param("dependency")

	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, s.opts.MaxBodyBytes))
	if err != nil {
		status, msg := http.StatusBadRequest, "failed to read request body"
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			status, msg = http.StatusRequestEntityTooLarge, fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit)
		}
		c.JSON(status, errorBody{
			Error:      msg,
			Dependency: dependency,
			Outcome:    "invalid_request",
			RequestID:  c.GetString(requestIDKey),
		})
		return
	}

	path := upstreamPath(c.Request.URL)
	if raw := c.Request.URL.RawQuery; raw != "" {
		path += "?" + raw
	}

	header := c.Request.Header.Clone()
	removeHopHeaders(header)
	header.Set(aggregator.HeaderRequestID, c.GetString(requestIDKey))

	ctx := c.Request.Context()
	if s.opts.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.RequestTimeout)
		defer cancel()
	}

	resp, err := s.gateway.Invoke(ctx, dependency, &aggregator.Request{
		Method: c.Request.Method,
		Path:   path,
		Header: header,
		Body:   body,
	})
	if err != nil {
		s.writeError(c, dependency, err)
		return
	}
	writeResponse(c, resp)
}

func (s *Server) writeError(c *gin.Context, dependency string, err error) {
	var clientErr *aggregator.ClientError
	if errors.As(err, &clientErr) && clientErr.Response != nil {
		writeResponse(c, clientErr.Response)
		return
	}

	var openErr *aggregator.CircuitOpenError
	if errors.As(err, &openErr) && openErr.RetryAfter > 0 {
		c.Header("Retry-After", strconv.Itoa(int(math.Ceil(openErr.RetryAfter.Seconds()))))
	}

	c.JSON(StatusFor(err), errorBody{
		Error:      err.Error(),
		Dependency: dependency,
		Outcome:    aggregator.Outcome(err),
		RequestID:  c.GetString(requestIDKey),
	})
}

// StatusFor maps a gateway error to the status returned to the caller.
func StatusFor(err error) int {
	var clientErr *aggregator.ClientError
	switch {
	case errors.Is(err, aggregator.ErrUnknownDependency):
		return http.StatusNotFound
	case errors.As(err, &clientErr):
		return clientErr.Code
	case aggregator.IsUnavailable(err):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, aggregator.ErrInvalidRequest):
		return http.StatusBadRequest
	default:
		return http.StatusBadGateway
	}
}

func writeResponse(c *gin.Context, resp *aggregator.Response) {
	header := c.Writer.Header()
	for name, values := range resp.Header {
		if http.CanonicalHeaderKey(name) == aggregator.HeaderRequestID {
			continue
		}
		for _, v := range values {
			header.Add(name, v)
		}
	}
	removeHopHeaders(header)
	c.Status(resp.StatusCode)
	_, _ = c.Writer.Write(resp.Body)
}

// upstreamPath returns the escaped request path with the /api/:dependency
// prefix removed. gin's path parameters are decoded, which would turn an
// encoded %2F into a separator.
func upstreamPath(u *url.URL) string {
	rest := strings.TrimPrefix(u.EscapedPath(), "/api/")
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		return rest[i:]
	}
	return "/"
}

func removeHopHeaders(h http.Header) {
	for _, name := range hopHeaders {
		h.Del(name)
	}
}
