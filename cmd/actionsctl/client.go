package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const apiBase = "/api/actions/v1"

type actionsClient struct {
	baseURL  string
	http     *http.Client
	email    string
	userName string
	token    string
}

func newClient() *actionsClient {
	return &actionsClient{
		baseURL:  strings.TrimRight(v.GetString("server"), "/"),
		http:     &http.Client{Timeout: 30 * time.Second},
		email:    v.GetString("user-email"),
		userName: v.GetString("user-name"),
		token:    v.GetString("token"),
	}
}

// do sends a request with the caller headers and decodes a 200 or 201
// response into out when out is non-nil.
func (c *actionsClient) do(method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal error: %w", err)
		}
		rd = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, rd)
	if err != nil {
		return fmt.Errorf("request creation failed: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.email != "" {
		req.Header.Set("X-User-Email", c.email)
	}
	if c.userName != "" {
		req.Header.Set("X-User-Name", c.userName)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(bodyBytes)))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode error: %w", err)
		}
	}
	return nil
}

func (c *actionsClient) getJSON(path string, out any) error {
	return c.do(http.MethodGet, path, nil, out)
}

func (c *actionsClient) postJSON(path string, body, out any) error {
	return c.do(http.MethodPost, path, body, out)
}

func (c *actionsClient) putJSON(path string, body, out any) error {
	return c.do(http.MethodPut, path, body, out)
}
