// Package remote is the request-response API client the engine consumes for
// login, profile, directory, and message history. Every call is a fallible
// remote call; retry policy belongs to the caller.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/treasuretool/treasured/internal/model"
)

// APIError is a non-zero business code returned by the server.
type APIError struct {
	Code    int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.Code, e.Message)
}

// response is the common envelope: code 0 means success.
type response struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// Client talks to the message server's REST API.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a Client for the given base URL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// Login authenticates and returns the account record.
func (c *Client) Login(ctx context.Context, username, password string) (*model.User, error) {
	body := map[string]string{"username": username, "password": password}
	var user model.User
	if err := c.do(ctx, http.MethodPost, "login", nil, body, &user); err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	return &user, nil
}

// UserInfo fetches the account record for userID.
func (c *Client) UserInfo(ctx context.Context, userID string) (*model.User, error) {
	query := url.Values{"userId": {userID}}
	var user model.User
	if err := c.do(ctx, http.MethodGet, "user/info", query, nil, &user); err != nil {
		return nil, fmt.Errorf("fetch user info: %w", err)
	}
	return &user, nil
}

// Contacts fetches the contact directory for userID.
func (c *Client) Contacts(ctx context.Context, userID string) ([]model.Contact, error) {
	query := url.Values{"userId": {userID}}
	var contacts []model.Contact
	if err := c.do(ctx, http.MethodGet, "user/contact/byUserId", query, nil, &contacts); err != nil {
		return nil, fmt.Errorf("fetch contacts: %w", err)
	}
	return contacts, nil
}

// History fetches a page of messages exchanged with contactID.
func (c *Client) History(ctx context.Context, userID, contactID string, offset, limit int) ([]model.Message, error) {
	query := url.Values{
		"userId":    {userID},
		"contactId": {contactID},
		"offset":    {strconv.Itoa(offset)},
		"limit":     {strconv.Itoa(limit)},
	}
	var page []model.Message
	if err := c.do(ctx, http.MethodGet, "message/history", query, nil, &page); err != nil {
		return nil, fmt.Errorf("fetch history: %w", err)
	}
	return page, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	endpoint := c.baseURL + "/" + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}

	var env response
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if env.Code != 0 {
		return &APIError{Code: env.Code, Message: env.Message}
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("decode payload: %w", err)
		}
	}
	return nil
}
