package adapter

import (
	"maps"
	"net/http"
	"strconv"
)

// HTTPHeader is a flat header map, simpler than http.Header since the
// adapter never needs multi-valued headers for its own responses.
type HTTPHeader map[string]string

// HTTPResponse is everything the adapter needs to write a complete
// response: status, optional body, and any headers beyond what
// http.ResponseWriter fills in automatically.
type HTTPResponse struct {
	StatusCode int
	Body       string
	Header     HTTPHeader
}

// writeTo writes resp into w. Content-Length is set automatically when
// Body is non-empty.
func (resp HTTPResponse) writeTo(w http.ResponseWriter) {
	headers := w.Header()
	for key, value := range resp.Header {
		headers.Set(key, value)
	}

	if len(resp.Body) > 0 {
		headers.Set("Content-Length", strconv.Itoa(len(resp.Body)))
	}

	w.WriteHeader(resp.StatusCode)

	if len(resp.Body) > 0 {
		w.Write([]byte(resp.Body))
	}
}

// MergeWith returns a copy of resp with non-default fields from other
// taking precedence, and headers from both merged (other wins on
// collision). Used to layer the universal Tus-Resumable header onto every
// handler-produced response without each handler repeating itself.
func (resp HTTPResponse) MergeWith(other HTTPResponse) HTTPResponse {
	merged := resp

	if other.StatusCode != 0 {
		merged.StatusCode = other.StatusCode
	}
	if len(other.Body) > 0 {
		merged.Body = other.Body
	}

	merged.Header = make(HTTPHeader, len(resp.Header)+len(other.Header))
	maps.Copy(merged.Header, resp.Header)
	maps.Copy(merged.Header, other.Header)

	return merged
}
