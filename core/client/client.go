/*
Package client provides easy and fast in-process access to the REST api.

Instead of marshalling HTTP, the client talks directly to the mux router.
It is the tool of choice when one request handler needs to call other
handlers to fulfill its task, and it is perfectly suited for unit tests.
*/
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/gorilla/mux"
)

// Client provides easy access to the REST API.
type Client struct {
	router     *mux.Router
	httpClient *http.Client
	url        string
	ctx        context.Context
}

// NewWithRouter creates a client to make pseudo-REST requests to the
// backend, through the mux router.
func NewWithRouter(router *mux.Router) Client {
	return Client{router: router}
}

// NewWithURL creates a client to make REST requests to a remote backend.
func NewWithURL(url string) Client {
	return Client{
		url:        url,
		httpClient: &http.Client{Timeout: 20 * time.Second},
	}
}

// WithContext returns a new client with a specific request context.
func (c Client) WithContext(ctx context.Context) Client {
	c.ctx = ctx
	return c
}

func (c Client) context() context.Context {
	if c.ctx == nil {
		return context.Background()
	}
	return c.ctx
}

func (c Client) do(r *http.Request) (int, []byte, error) {
	if c.router != nil {
		rec := httptest.NewRecorder()
		c.router.ServeHTTP(rec, r)
		return rec.Code, rec.Body.Bytes(), nil
	}
	res, err := c.httpClient.Do(r)
	if err != nil {
		return http.StatusInternalServerError, nil, err
	}
	defer res.Body.Close()
	body, _ := io.ReadAll(res.Body)
	return res.StatusCode, body, nil
}

func decodeResult(body []byte, result interface{}) error {
	if len(body) == 0 || result == nil {
		return nil
	}
	if raw, ok := result.(*[]byte); ok {
		*raw = body
		return nil
	}
	return json.Unmarshal(body, result)
}

// RawGet gets the resource from path. Expects http.StatusOK as response,
// otherwise it flags an error. Returns the actual http status code.
//
// result can be a struct, a map[string]interface{} or a raw *[]byte;
// result can be nil.
func (c Client) RawGet(path string, result interface{}) (int, error) {
	r, _ := http.NewRequestWithContext(c.context(), http.MethodGet, c.url+path, nil)
	status, body, err := c.do(r)
	if err != nil {
		return status, err
	}
	if status == http.StatusNoContent {
		return status, nil
	}
	if status != http.StatusOK {
		return status, fmt.Errorf("handler returned wrong status code: got %v want %v. Error: %s",
			status, http.StatusOK, strings.TrimSpace(string(body)))
	}
	return status, decodeResult(body, result)
}

func (c Client) rawWithBody(method, path string, expect int, body interface{}, result interface{}) (int, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return http.StatusBadRequest, err
	}
	r, _ := http.NewRequestWithContext(c.context(), method, c.url+path, bytes.NewBuffer(payload))
	r.Header.Set("Content-Type", "application/json")
	status, resBody, err := c.do(r)
	if err != nil {
		return status, err
	}
	if status != expect {
		return status, fmt.Errorf("handler returned wrong status code: got %v want %v. Error: %s",
			status, expect, strings.TrimSpace(string(resBody)))
	}
	return status, decodeResult(resBody, result)
}

// RawPost posts a resource to path. Expects http.StatusCreated as
// response, otherwise it flags an error.
func (c Client) RawPost(path string, body interface{}, result interface{}) (int, error) {
	return c.rawWithBody(http.MethodPost, path, http.StatusCreated, body, result)
}

// RawPostOK posts to path expecting http.StatusOK, for action-style
// endpoints that do not create a resource.
func (c Client) RawPostOK(path string, body interface{}, result interface{}) (int, error) {
	return c.rawWithBody(http.MethodPost, path, http.StatusOK, body, result)
}

// RawPut puts a resource to path. Expects http.StatusOK as response,
// otherwise it flags an error.
func (c Client) RawPut(path string, body interface{}, result interface{}) (int, error) {
	return c.rawWithBody(http.MethodPut, path, http.StatusOK, body, result)
}

// RawDelete deletes the resource at path. Expects http.StatusNoContent as
// response, otherwise it flags an error.
func (c Client) RawDelete(path string) (int, error) {
	r, _ := http.NewRequestWithContext(c.context(), http.MethodDelete, c.url+path, nil)
	status, body, err := c.do(r)
	if err != nil {
		return status, err
	}
	if status != http.StatusNoContent {
		return status, fmt.Errorf("handler returned wrong status code: got %v want %v. Error: %s",
			status, http.StatusNoContent, strings.TrimSpace(string(body)))
	}
	return status, nil
}
