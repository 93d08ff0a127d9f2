package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/DSkillz/ProNet-sub001/internal/model"
)

var (
	ErrUnauthorized = errors.New("rest: token rejected")
	ErrEmptyContent = errors.New("rest: message content cannot be empty")
)

// Client consumes the chat REST API. Every call requires a valid bearer
// token; failures come back as errors, never partial data. There are no
// retries and no client-side timeout beyond the caller's context.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient builds a REST client against baseURL (no trailing slash
// required). httpClient may be nil, in which case http.DefaultClient is
// used.
func NewClient(baseURL, token string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    httpClient,
	}
}

type conversationsResponse struct {
	Conversations []model.Conversation `json:"conversations"`
}

type messagesResponse struct {
	Messages   []model.Message `json:"messages"`
	NextCursor string          `json:"nextCursor,omitempty"`
}

type unreadCountResponse struct {
	Count int64 `json:"count"`
}

type sendMessageRequest struct {
	ReceiverID string `json:"receiverId"`
	Content    string `json:"content"`
}

// Conversations fetches all conversation summaries for the session user.
func (c *Client) Conversations(ctx context.Context) ([]model.Conversation, error) {
	var resp conversationsResponse
	if err := c.get(ctx, "/conversations", &resp); err != nil {
		return nil, err
	}
	return resp.Conversations, nil
}

// Messages fetches one page of history for a conversation, newest first.
// An empty cursor requests the newest page. The returned cursor is empty
// at end of history. The cursor is opaque to the client and escaped
// verbatim into the query string.
func (c *Client) Messages(ctx context.Context, conversationID, cursor string) ([]model.Message, string, error) {
	path := "/conversations/" + conversationID + "/messages"
	if cursor != "" {
		path += "?cursor=" + url.QueryEscape(cursor)
	}
	var resp messagesResponse
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, "", err
	}
	return resp.Messages, resp.NextCursor, nil
}

// UnreadCount returns the total number of unread messages for the
// session user across all conversations.
func (c *Client) UnreadCount(ctx context.Context) (int64, error) {
	var resp unreadCountResponse
	if err := c.get(ctx, "/unread-count", &resp); err != nil {
		return 0, err
	}
	return resp.Count, nil
}

// Send posts a new message and returns the stored message as the server
// recorded it, timestamps and IDs included.
func (c *Client) Send(ctx context.Context, receiverID, content string) (*model.Message, error) {
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyContent
	}
	body, err := json.Marshal(sendMessageRequest{ReceiverID: receiverID, Content: content})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	var msg model.Message
	if err := c.do(req, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return ErrUnauthorized
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("rest: %s %s: status %d: %s", req.Method, req.URL.Path, resp.StatusCode, snippet)
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
