package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a settings.Store backed by a remote prefkit server.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// NewClientWithHTTP is NewClient with a custom http.Client (for testing).
func NewClientWithHTTP(baseURL, token string, hc *http.Client) *Client {
	c := NewClient(baseURL, token)
	c.httpClient = hc
	return c
}

func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshalling request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("server not reachable, is prefkit serve running? (%w)", err)
	}
	return resp, nil
}

func settingPath(key string) string {
	return "/settings/" + url.PathEscape(key)
}

func (c *Client) Object(key string) (any, bool, error) {
	resp, err := c.do(context.Background(), http.MethodGet, settingPath(key), nil)
	if err != nil {
		return nil, false, err
	}
	if resp.StatusCode == http.StatusNotFound {
		resp.Body.Close()
		return nil, false, nil
	}
	var wire Value
	if err := decodeJSON(resp, &wire); err != nil {
		return nil, false, err
	}
	v, err := wire.Decode()
	if err != nil {
		return nil, false, fmt.Errorf("decoding %s: %w", key, err)
	}
	return v, true, nil
}

func (c *Client) SetObject(key string, value any) error {
	wire, err := EncodeValue(value)
	if err != nil {
		return err
	}
	resp, err := c.do(context.Background(), http.MethodPut, settingPath(key), wire)
	if err != nil {
		return err
	}
	return expectNoContent(resp)
}

func (c *Client) RemoveObject(key string) error {
	resp, err := c.do(context.Background(), http.MethodDelete, settingPath(key), nil)
	if err != nil {
		return err
	}
	return expectNoContent(resp)
}

func (c *Client) Keys() ([]string, error) {
	resp, err := c.do(context.Background(), http.MethodGet, "/settings", nil)
	if err != nil {
		return nil, err
	}
	var list KeyList
	if err := decodeJSON(resp, &list); err != nil {
		return nil, err
	}
	return list.Keys, nil
}

func decodeJSON(resp *http.Response, v any) error {
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return responseError(resp)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

func expectNoContent(resp *http.Response) error {
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return responseError(resp)
	}
	return nil
}

func responseError(resp *http.Response) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("server returned %d (failed to read body: %w)", resp.StatusCode, err)
	}
	var apiErr struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &apiErr) == nil && apiErr.Error.Message != "" {
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, apiErr.Error.Message)
	}
	return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
}
