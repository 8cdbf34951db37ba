package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"smlgpt/internal/apperrors"
)

const subscriptionKeyHeader = "Ocp-Apim-Subscription-Key"

// restClient is the shared JSON plumbing for the Azure REST services.
type restClient struct {
	service string
	http    *http.Client
	header  string
	key     string
}

func (c *restClient) newRequest(ctx context.Context, method, url string, body io.Reader, contentType string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, apperrors.WrapExternal(c.service, err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set(c.header, c.key)
	return req, nil
}

// do sends req and returns the response when the status is 2xx. Any other
// status is read and reported as an external service error.
func (c *restClient) do(req *http.Request) (*http.Response, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, apperrors.WrapExternal(c.service, err)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	msg := fmt.Sprintf("%d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	if detail := errorDetail(data); detail != "" {
		msg += ": " + detail
	}
	return nil, apperrors.ExternalService(c.service, msg)
}

// doJSON posts in as JSON (when non-nil) and decodes the reply into out (when non-nil).
func (c *restClient) doJSON(ctx context.Context, method, url string, in, out any) (http.Header, error) {
	var body io.Reader
	contentType := ""
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return nil, apperrors.WrapExternal(c.service, err)
		}
		body = bytes.NewReader(data)
		contentType = "application/json"
	}
	req, err := c.newRequest(ctx, method, url, body, contentType)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return resp.Header, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return nil, apperrors.ExternalService(c.service, "invalid response: "+err.Error())
	}
	return resp.Header, nil
}

// errorDetail pulls the message out of the usual Azure error bodies.
func errorDetail(data []byte) string {
	var body struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &body); err == nil {
		switch {
		case body.Error.Message != "":
			return body.Error.Message
		case body.Message != "":
			return body.Message
		}
	}
	return strings.TrimSpace(string(data))
}

func trimEndpoint(endpoint string) string {
	return strings.TrimRight(endpoint, "/")
}
