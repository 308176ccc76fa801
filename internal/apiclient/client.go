// Package apiclient talks to the chat gateway's REST API and builds the
// stream URLs the chat session dials.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/lalith-99/storefront/internal/auth"
	"github.com/lalith-99/storefront/internal/chat"
	"github.com/lalith-99/storefront/internal/config"
	"go.uber.org/zap"
)

var ErrNoToken = errors.New("not logged in")

// APIError is a non-2xx response from the gateway.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("gateway error %d", e.StatusCode)
	}
	return fmt.Sprintf("gateway error %d: %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 from the gateway.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// Client carries the connection settings and the session token. Create
// one at startup with New and call Logout to drop the token.
type Client struct {
	cfg        config.ClientConfig
	httpClient *http.Client
	logger     *zap.Logger

	mu    sync.RWMutex
	token string
}

func New(cfg config.ClientConfig, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
		token:      cfg.Token,
	}
}

func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// Logout forgets the token. Later calls that need one fail with
// ErrNoToken.
func (c *Client) Logout() {
	c.SetToken("")
	c.logger.Debug("logged out")
}

// Self is the local identity: the configured override, or the email
// claim of the token.
func (c *Client) Self() (chat.Identity, error) {
	if c.cfg.Self != "" {
		return chat.Identity(c.cfg.Self), nil
	}
	token := c.Token()
	if token == "" {
		return "", ErrNoToken
	}
	email, err := auth.IdentityFromToken(token)
	if err != nil {
		return "", err
	}
	return chat.Identity(email), nil
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenResponse struct {
	Token string `json:"token"`
}

// Login exchanges credentials for a token and keeps it.
func (c *Client) Login(ctx context.Context, email, password string) (string, error) {
	var resp tokenResponse
	if err := c.do(ctx, http.MethodPost, "/v1/auth/login", credentials{Email: email, Password: password}, false, &resp); err != nil {
		return "", fmt.Errorf("login: %w", err)
	}
	c.SetToken(resp.Token)
	return resp.Token, nil
}

// User is the gateway's view of an account.
type User struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"display_name"`
	CreatedAt   time.Time `json:"created_at"`
}

func (c *Client) Me(ctx context.Context) (*User, error) {
	var u User
	if err := c.do(ctx, http.MethodGet, "/v1/users/me", nil, true, &u); err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}
	return &u, nil
}

// historyItem is one stored message as the gateway returns it.
type historyItem struct {
	ID      int64     `json:"id"`
	Message string    `json:"message"`
	Sender  string    `json:"sender"`
	Date    time.Time `json:"date"`
	IsRead  bool      `json:"is_read"`
}

// FetchHistory loads the stored conversation with peer, oldest first. A
// 404 means the conversation has no messages yet.
func (c *Client) FetchHistory(ctx context.Context, peer chat.Identity) ([]chat.Message, error) {
	path := "/v1/chat/messages?" + url.Values{"email": {string(peer)}}.Encode()

	var items []historyItem
	if err := c.do(ctx, http.MethodGet, path, nil, true, &items); err != nil {
		if IsNotFound(err) {
			c.logger.Debug("no history", zap.String("peer", string(peer)))
			return []chat.Message{}, nil
		}
		return nil, fmt.Errorf("fetch history: %w", err)
	}

	msgs := make([]chat.Message, 0, len(items))
	for _, it := range items {
		read := chat.Unread
		if it.IsRead {
			read = chat.Read
		}
		msgs = append(msgs, chat.Message{
			ID:        it.ID,
			Body:      it.Message,
			Sender:    chat.Identity(it.Sender),
			Timestamp: it.Date,
			ReadState: read,
			Delivery:  chat.Confirmed,
		})
	}
	return msgs, nil
}

// StreamURL is the stream endpoint for a conversation with peer, with
// the token in the query string.
func (c *Client) StreamURL(peer chat.Identity) (string, error) {
	token := c.Token()
	if token == "" {
		return "", ErrNoToken
	}
	if peer == "" {
		return "", errors.New("empty peer")
	}
	q := url.Values{"token": {token}}
	return c.cfg.StreamBaseURL + "/ws/chat/" + url.PathEscape(string(peer)) + "/?" + q.Encode(), nil
}

// Dialer returns a stream dialer bound to this client's token.
func (c *Client) Dialer() *chat.WebSocketDialer {
	return chat.NewWebSocketDialer(c.StreamURL)
}

// SessionOptions fills chat.Options from the client config.
func (c *Client) SessionOptions() (chat.Options, error) {
	self, err := c.Self()
	if err != nil {
		return chat.Options{}, err
	}
	ceiling := c.cfg.RetryCeiling
	if ceiling == 0 {
		ceiling = -1
	}
	return chat.Options{
		Self:           self,
		ConnectTimeout: c.cfg.ConnectTimeout,
		RetryCeiling:   ceiling,
		RetryDelay:     c.cfg.RetryDelay,
	}, nil
}

func (c *Client) do(ctx context.Context, method, path string, in any, authed bool, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.APIBaseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if authed {
		token := c.Token()
		if token == "" {
			return ErrNoToken
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(respBody, &errResp)
		c.logger.Debug("gateway error",
			zap.String("method", method),
			zap.String("path", req.URL.Path),
			zap.Int("status", resp.StatusCode),
		)
		return &APIError{StatusCode: resp.StatusCode, Message: errResp.Error}
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
