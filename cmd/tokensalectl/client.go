package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"tokensale/config"
)

const allowlistChunk = 200

// client is a thin JSON client for the sale gateway.
type client struct {
	endpoint string
	token    string
	http     *http.Client
}

func newClient(endpoint, token string) *client {
	return &client{
		endpoint: strings.TrimRight(strings.TrimSpace(endpoint), "/"),
		token:    strings.TrimSpace(token),
		http:     &http.Client{Timeout: 30 * time.Second},
	}
}

type apiError struct {
	Status  int
	Code    string
	Message string
}

func (e *apiError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("gateway returned %d", e.Status)
	}
	return fmt.Sprintf("gateway returned %d (%s): %s", e.Status, e.Code, e.Message)
}

func (c *client) do(ctx context.Context, method, path string, body interface{}, idempotencyKey string, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &apiError{Status: resp.StatusCode}
		var envelope struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(raw, &envelope) == nil {
			apiErr.Code = envelope.Error.Code
			apiErr.Message = envelope.Error.Message
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(raw, out)
}

// pushAllowlist submits every group in chunks. Each chunk carries its own
// idempotency key so a retried run does not double-apply a chunk.
func (c *client) pushAllowlist(ctx context.Context, groups []config.CapGroup, runID string) (int, error) {
	if runID == "" {
		runID = uuid.NewString()
	}
	total := 0
	for _, group := range groups {
		for start := 0; start < len(group.Participants); start += allowlistChunk {
			end := start + allowlistChunk
			if end > len(group.Participants) {
				end = len(group.Participants)
			}
			participants := make([]string, 0, end-start)
			for _, addr := range group.Participants[start:end] {
				participants = append(participants, addr.Hex())
			}
			body := map[string]interface{}{
				"participants": participants,
				"cap":          group.Cap.String(),
			}
			key := fmt.Sprintf("allowlist-%s-%s-%d", runID, group.Name, start)
			if err := c.do(ctx, http.MethodPost, "/v1/caps", body, key, nil); err != nil {
				return total, fmt.Errorf("group %s: %w", group.Name, err)
			}
			total += len(participants)
		}
	}
	return total, nil
}

func (c *client) settle(ctx context.Context) (map[string]interface{}, error) {
	var out map[string]interface{}
	err := c.do(ctx, http.MethodPost, "/v1/settlement", nil, "settle-"+uuid.NewString(), &out)
	return out, err
}

func (c *client) openPresale(ctx context.Context) (map[string]interface{}, error) {
	var out map[string]interface{}
	err := c.do(ctx, http.MethodPost, "/v1/presale/open", nil, "", &out)
	return out, err
}

func (c *client) status(ctx context.Context) (map[string]interface{}, error) {
	var out map[string]interface{}
	err := c.do(ctx, http.MethodGet, "/v1/status", nil, "", &out)
	return out, err
}
