package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// APIError is an error response from the lobby API
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.Code, e.Status, e.Message)
}

// Client calls the lobby API of a running server
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for the server at baseURL, e.g. http://localhost:8080
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

// CreateLobby opens a lobby with name as its host
func (c *Client) CreateLobby(ctx context.Context, req CreateLobbyRequest) (*LobbyResponse, error) {
	var resp LobbyResponse
	if err := c.do(ctx, http.MethodPost, "/api/lobbies", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// JoinLobby takes a seat in the lobby
func (c *Client) JoinLobby(ctx context.Context, code, name string) (*LobbyResponse, error) {
	var resp LobbyResponse
	if err := c.do(ctx, http.MethodPost, "/api/lobbies/"+code+"/join", JoinLobbyRequest{Name: name}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// AddBot seats an AI player; only the host may do this
func (c *Client) AddBot(ctx context.Context, code string, req AddBotRequest) error {
	return c.do(ctx, http.MethodPost, "/api/lobbies/"+code+"/bots", req, nil)
}

// StartGame leaves the waiting room; only the host may do this
func (c *Client) StartGame(ctx context.Context, code, playerID string) error {
	return c.do(ctx, http.MethodPost, "/api/lobbies/"+code+"/start", PlayerRequest{PlayerID: playerID}, nil)
}

// LeaveLobby gives up the player's seat
func (c *Client) LeaveLobby(ctx context.Context, code, playerID string) error {
	return c.do(ctx, http.MethodPost, "/api/lobbies/"+code+"/leave", PlayerRequest{PlayerID: playerID}, nil)
}

// SocketURL returns the websocket URL for a seat returned by the API
func (c *Client) SocketURL(seat *LobbyResponse) string {
	base := c.baseURL
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + seat.SocketPath
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer res.Body.Close()

	var resp struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
		Error   *ErrorInfo      `json:"error"`
	}
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		return fmt.Errorf("%s %s: decode response: %w", method, path, err)
	}
	if !resp.Success {
		apiErr := &APIError{Status: res.StatusCode}
		if resp.Error != nil {
			apiErr.Code = resp.Error.Code
			apiErr.Message = resp.Error.Message
		}
		return apiErr
	}
	if out == nil || len(resp.Data) == 0 {
		return nil
	}
	return json.Unmarshal(resp.Data, out)
}
