// Package loki pushes audit events to Grafana Loki.
package loki

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"edu-platform/auth/internal/telemetry"
)

// DefaultJob is the job label on every pushed stream.
const DefaultJob = "edu-auth"

// PushRequest is the Loki push API request body (v1).
type PushRequest struct {
	Streams []Stream `json:"streams"`
}

// Stream is a single stream with labels and log entries.
type Stream struct {
	Stream map[string]string `json:"stream"`
	Values [][]string        `json:"values"` // [timestamp_ns, line]
}

var labelSanitize = regexp.MustCompile(`[^a-zA-Z0-9_\-:]`)

// Client pushes log lines to one Loki instance.
type Client struct {
	baseURL string
	job     string
	http    *http.Client
	now     func() time.Time
}

// NewClient returns a client for baseURL (e.g. http://localhost:3100). A nil httpClient
// uses one with a 10s timeout.
func NewClient(baseURL, job string, httpClient *http.Client) *Client {
	if job == "" {
		job = DefaultJob
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{baseURL: strings.TrimSuffix(baseURL, "/"), job: job, http: httpClient, now: time.Now}
}

// PushAuditJSON pushes a serialized AuditEvent. The action and resource become stream
// labels and createdAt the entry timestamp. Unparseable input is pushed as-is at the
// current time.
func (c *Client) PushAuditJSON(ctx context.Context, raw []byte) error {
	labels := map[string]string{}
	ts := c.now().UTC()
	var ev telemetry.AuditEvent
	if err := json.Unmarshal(raw, &ev); err == nil {
		if ev.Action != "" {
			labels["action"] = ev.Action
		}
		if ev.Resource != "" {
			labels["resource"] = ev.Resource
		}
		if !ev.CreatedAt.IsZero() {
			ts = ev.CreatedAt
		}
	}
	return c.Push(ctx, ts, string(raw), labels)
}

// Push sends one line. Returns an error on transport failure or a non-2xx response.
func (c *Client) Push(ctx context.Context, timestamp time.Time, line string, labels map[string]string) error {
	if c.baseURL == "" {
		return fmt.Errorf("loki: base URL is empty")
	}
	streamLabels := make(map[string]string, len(labels)+1)
	streamLabels["job"] = c.job
	for k, v := range labels {
		if sanitized := labelSanitize.ReplaceAllString(strings.TrimSpace(v), "_"); sanitized != "" {
			streamLabels[k] = sanitized
		}
	}
	payload, err := json.Marshal(PushRequest{Streams: []Stream{{
		Stream: streamLabels,
		Values: [][]string{{strconv.FormatInt(timestamp.UnixNano(), 10), line}},
	}}})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/loki/api/v1/push", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("loki: push returned %s", resp.Status)
	}
	return nil
}
