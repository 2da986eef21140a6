package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

// CodeNoRows is the PostgREST code for "single row expected, none found".
const CodeNoRows = "PGRST116"

// Response is a generic API response.
type Response struct {
	StatusCode int
	Body       []byte
	Headers    http.Header
}

// JSON unmarshals the response body into v.
func (r *Response) JSON(v any) error {
	if len(r.Body) == 0 {
		return nil
	}
	return json.Unmarshal(r.Body, v)
}

// Count returns the total from a Content-Range header like "0-9/42", or -1.
func (r *Response) Count() int {
	cr := r.Headers.Get("Content-Range")
	idx := strings.LastIndex(cr, "/")
	if idx < 0 {
		return -1
	}
	n, err := strconv.Atoi(cr[idx+1:])
	if err != nil {
		return -1
	}
	return n
}

// Error returns an *APIError if the response indicates failure.
func (r *Response) Error() error {
	if r.StatusCode < 400 {
		return nil
	}
	apiErr := &APIError{StatusCode: r.StatusCode}
	if gjson.ValidBytes(r.Body) {
		parsed := gjson.ParseBytes(r.Body)
		apiErr.Code = parsed.Get("code").String()
		apiErr.Details = parsed.Get("details").String()
		for _, field := range []string{"message", "msg", "error_description", "error"} {
			if v := parsed.Get(field); v.Exists() && v.String() != "" {
				apiErr.Message = v.String()
				break
			}
		}
	}
	return apiErr
}

// APIError is an error reported by a Supabase endpoint.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Details    string
}

func (e *APIError) Error() string {
	switch {
	case e.Message != "" && e.Code != "":
		return fmt.Sprintf("supabase error %s: %s", e.Code, e.Message)
	case e.Message != "":
		return fmt.Sprintf("supabase error: %s", e.Message)
	default:
		return fmt.Sprintf("supabase error: status %d", e.StatusCode)
	}
}

// IsNoRows reports whether err is a PostgREST "no rows" error.
func IsNoRows(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == CodeNoRows
}
