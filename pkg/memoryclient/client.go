// Package memoryclient is the gateway's HTTP client for the memory
// service's recall and message-event endpoints (§4.1 steps 3 and 9). It is
// a thin net/http wrapper rather than a generated SDK, since the memory
// service's API surface is small and entirely internal to this system.
package memoryclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/google/uuid"
)

// Client calls the memory service over HTTP.
type Client struct {
	baseURL        string
	serviceHeader  string
	httpClient     *http.Client
}

// New builds a Client bound to baseURL (e.g. "http://memoryservice:8081"),
// presenting serviceHeaderValue on the x-internal-service header.
func New(baseURL, serviceHeaderValue string) *Client {
	return &Client{
		baseURL:       baseURL,
		serviceHeader: serviceHeaderValue,
		httpClient:    &http.Client{Timeout: 2 * time.Second},
	}
}

// RecallItem is one item returned by GET /recall.
type RecallItem struct {
	Memory struct {
		ID      uuid.UUID `json:"id"`
		Content string    `json:"content"`
		Tier    string    `json:"tier"`
	} `json:"memory"`
	Score float64 `json:"score"`
}

// Recall calls GET /recall, retrying once via retry-go when the request
// fails or returns a non-200 status, and returns an empty slice rather than an error on exhaustion — recall is
// always a best-effort context enrichment, never a hard dependency of the
// gather layer (§4.3 "never blocks").
func (c *Client) Recall(ctx context.Context, userID, query string, currentThread uuid.UUID, maxItems int, deadline time.Duration) []RecallItem {
	var items []RecallItem
	err := retry.Do(func() error {
		u := c.baseURL + "/recall?" + url.Values{
			"userId":     {userID},
			"query":      {query},
			"threadId":   {currentThread.String()},
			"maxItems":   {strconv.Itoa(maxItems)},
			"deadlineMs": {strconv.Itoa(int(deadline.Milliseconds()))},
		}.Encode()

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return retry.Unrecoverable(err)
		}
		req.Header.Set(internalHeaderName, c.serviceHeader)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("memoryclient: recall returned status %d", resp.StatusCode)
		}
		return json.NewDecoder(resp.Body).Decode(&items)
	}, retry.Attempts(2), retry.Context(ctx))

	if err != nil {
		return nil
	}
	return items
}

const internalHeaderName = "x-internal-service"

// MessageEvent is the payload for POST /events/message.
type MessageEvent struct {
	UserID    string `json:"userId"`
	ThreadID  string `json:"threadId"`
	MessageID string `json:"messageId"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	TokensIn  int    `json:"tokensIn"`
	TokensOut int    `json:"tokensOut"`
}

// RecordMessageEvent fire-and-forgets the message event that drives the
// memory service's cadence tracker (§4.1 step 9). Errors are returned to the
// caller, which runs this on a detached goroutine and only logs them.
func (c *Client) RecordMessageEvent(ctx context.Context, ev MessageEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("memoryclient: marshal message event: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/events/message", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("memoryclient: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(internalHeaderName, c.serviceHeader)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("memoryclient: post message event: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("memoryclient: message event returned status %d", resp.StatusCode)
	}
	return nil
}

// SaveMemoryRequest is the payload for POST /memories.
type SaveMemoryRequest struct {
	UserID   string  `json:"userId"`
	ThreadID string  `json:"threadId"`
	Content  string  `json:"content"`
	Priority float64 `json:"priority"`
	Tier     string  `json:"tier"`
}

// SaveMemory calls POST /memories for an explicit, user-authored memory
// (§4.6 "remember X" intent). Unlike RecordMessageEvent this runs before the
// turn streams its response, so the caller awaits it rather than
// detaching it onto a goroutine.
func (c *Client) SaveMemory(ctx context.Context, req SaveMemoryRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("memoryclient: marshal save memory request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/memories", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("memoryclient: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set(internalHeaderName, c.serviceHeader)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("memoryclient: post memory: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("memoryclient: save memory returned status %d", resp.StatusCode)
	}
	return nil
}
