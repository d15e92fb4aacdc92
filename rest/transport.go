package rest

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"golang.org/x/net/http2"
)

// Transport performs one physical send. It returns a Response for every
// completed call whatever its status, and an error only when no response
// was received. Implementations must be safe for concurrent use.
type Transport interface {
	Send(ctx context.Context, method Method, url string, header http.Header, body []byte) (*Response, error)
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, method Method, url string, header http.Header, body []byte) (*Response, error)

func (f TransportFunc) Send(ctx context.Context, method Method, url string, header http.Header, body []byte) (*Response, error) {
	return f(ctx, method, url, header, body)
}

// HTTPTransport sends requests with a net/http client.
type HTTPTransport struct {
	client *http.Client
}

// NewHTTPTransport wraps client, or a client with HTTP/2 enabled and a 20s
// timeout when client is nil.
func NewHTTPTransport(client *http.Client) (*HTTPTransport, error) {
	if client == nil {
		t := http.DefaultTransport.(*http.Transport).Clone()
		if _, err := http2.ConfigureTransports(t); err != nil {
			return nil, err
		}
		client = &http.Client{
			Transport: t,
			Timeout:   time.Second * 20,
		}
	}

	return &HTTPTransport{client: client}, nil
}

func (t *HTTPTransport) Send(ctx context.Context, method Method, url string, header http.Header, body []byte) (*Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method.String(), url, reader)
	if err != nil {
		return nil, &TransportError{Kind: KindOther, URL: url, Err: err}
	}
	req.Header = header

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, ClassifyTransportError(url, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, ClassifyTransportError(url, err)
	}

	return &Response{
		Status: resp.StatusCode,
		Header: resp.Header,
		Body:   data,
	}, nil
}
