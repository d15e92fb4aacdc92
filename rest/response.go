package rest

import (
	"encoding/json"
	"net/http"
	"time"
)

// Response is what a Transport returned for the final attempt.
type Response struct {
	Status int
	Header http.Header
	Body   []byte

	// Attempts counts the physical sends made for the request.
	Attempts int
	// Duration is measured from the first dequeue to the final response.
	Duration time.Duration
}

// OK reports a 2xx status.
func (r *Response) OK() bool {
	return r.Status/100 == 2
}

func (r *Response) Text() string {
	return string(r.Body)
}

// JSON decodes the body into v.
func (r *Response) JSON(v any) error {
	return json.Unmarshal(r.Body, v)
}
