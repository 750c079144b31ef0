package sdmx

import (
	"encoding/xml"
	"fmt"
	"net/http"
	"strings"

	"github.com/shpitdev/sdmx-dataflow-sync/pkg/pipeline/redact"
)

// errorMessage is the SDMX-ML error envelope some registries return with non-2xx responses.
type errorMessage struct {
	XMLName xml.Name `xml:"Error"`
	Message struct {
		Code string   `xml:"code,attr"`
		Text []string `xml:"Text"`
	} `xml:"ErrorMessage"`
}

// HTTPError is a sanitized summary of a non-2xx registry response.
//
// Important: do not include raw response bodies here.
type HTTPError struct {
	Op         string
	StatusCode int
	Status     string
	ErrorCode  string
	ErrorText  string

	// Snippet is a redacted, truncated hint for responses without an SDMX error envelope.
	Snippet string
}

func (e *HTTPError) Error() string {
	if e == nil {
		return "sdmx http error"
	}
	parts := []string{
		fmt.Sprintf("sdmx api error: op=%s status=%s", strings.TrimSpace(e.Op), strings.TrimSpace(e.Status)),
	}
	if strings.TrimSpace(e.ErrorCode) != "" {
		parts = append(parts, "errorCode="+strings.TrimSpace(e.ErrorCode))
	}
	if strings.TrimSpace(e.ErrorText) != "" {
		parts = append(parts, "errorText="+strings.TrimSpace(e.ErrorText))
	}
	if strings.TrimSpace(e.Snippet) != "" {
		parts = append(parts, "body="+strings.TrimSpace(e.Snippet))
	}
	return strings.Join(parts, " ")
}

func newHTTPError(op string, resp *http.Response, body []byte) error {
	h := &HTTPError{Op: op}
	if resp != nil {
		h.StatusCode = resp.StatusCode
		h.Status = resp.Status
	}

	// Best effort: parse the SDMX error envelope.
	var env errorMessage
	if len(body) > 0 && xml.Unmarshal(body, &env) == nil {
		h.ErrorCode = strings.TrimSpace(env.Message.Code)
		h.ErrorText = redactAndTruncate([]byte(strings.Join(env.Message.Text, " ")))
		if h.ErrorCode != "" || h.ErrorText != "" {
			return h
		}
	}

	h.Snippet = redactAndTruncate(body)
	return h
}

func redactAndTruncate(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	const max = 256
	b := body
	if len(b) > max {
		b = b[:max]
	}
	s := redact.Secrets(string(b))
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\r", " ")
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if len(body) > max {
		return s + "..."
	}
	return s
}
