package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hamed0406/slotwatch/internal/domain"
)

type apiClient struct {
	base string
	key  string
	http *http.Client
}

func newClient(base, key string) *apiClient {
	return &apiClient{
		base: strings.TrimRight(base, "/"),
		key:  key,
		http: &http.Client{Timeout: 10 * time.Minute},
	}
}

type apiError struct {
	Status int
	Msg    string
}

func (e *apiError) Error() string { return fmt.Sprintf("%d: %s", e.Status, e.Msg) }

// call sends in as JSON (when non-nil) and decodes the reply into out.
func (c *apiClient) call(method, path string, in, out any) (int, error) {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return 0, err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, c.base+path, body)
	if err != nil {
		return 0, err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.key != "" {
		req.Header.Set("X-API-Key", c.key)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, err
	}
	if resp.StatusCode >= 400 && resp.StatusCode != http.StatusNotFound {
		if out != nil {
			_ = json.Unmarshal(raw, out) // some failures still carry a body
		}
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(raw, &e) != nil || e.Error == "" {
			e.Error = strings.TrimSpace(string(raw))
		}
		return resp.StatusCode, &apiError{Status: resp.StatusCode, Msg: e.Error}
	}
	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode reply: %w", err)
		}
	}
	return resp.StatusCode, nil
}

func datePath(date string) string {
	return "/api/dates?date=" + url.QueryEscape(date)
}

// checkReply decodes either a plain result list or the error body of a
// cycle that failed after reading some dates.
type checkReply struct {
	Results []domain.CheckResult
}

func (c *checkReply) UnmarshalJSON(b []byte) error {
	if bytes.HasPrefix(bytes.TrimSpace(b), []byte("[")) {
		return json.Unmarshal(b, &c.Results)
	}
	var failed struct {
		Results []domain.CheckResult `json:"results"`
	}
	if err := json.Unmarshal(b, &failed); err != nil {
		return err
	}
	c.Results = failed.Results
	return nil
}
