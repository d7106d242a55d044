package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/frahmantamala/fleet-portal/internal"
	"github.com/frahmantamala/fleet-portal/internal/access"
	backendtypes "github.com/frahmantamala/fleet-portal/internal/core/datamodel/backend"
	"github.com/frahmantamala/fleet-portal/internal/identity"
)

var (
	ErrInvalidCredentials = errors.New("backend: invalid credentials")
	ErrInactiveAccount    = errors.New("backend: account inactive")
	ErrUnreachable        = errors.New("backend: endpoint unreachable")
	ErrBadRequest         = errors.New("backend: bad request")
	ErrNotFound           = errors.New("backend: not found")
	ErrUnauthorized       = errors.New("backend: unauthorized")
	ErrUnexpected         = errors.New("backend: unexpected response")
)

const DefaultTimeout = 10 * time.Second

type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Client talks to the fleet backend's REST API.
type Client struct {
	baseURL    string
	timeout    time.Duration
	httpClient *http.Client
	logger     *slog.Logger
}

func NewClient(config Config, logger *slog.Logger) *Client {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL:    strings.TrimRight(config.BaseURL, "/"),
		timeout:    timeout,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// Login exchanges credentials for the user record and its bearer token.
func (c *Client) Login(ctx context.Context, identifier, password string) (*identity.User, error) {
	req := &backendtypes.LoginRequest{Username: identifier, Password: password}
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
	}

	var resp backendtypes.UserResponse
	status, err := c.do(ctx, http.MethodPost, "/login", "", req, &resp)
	if err != nil {
		return nil, err
	}

	switch status {
	case http.StatusOK, http.StatusCreated:
		return &resp.Data, nil
	case http.StatusUnauthorized:
		return nil, ErrInvalidCredentials
	case http.StatusConflict:
		return nil, ErrInactiveAccount
	case http.StatusNotFound:
		return nil, fmt.Errorf("%w: login returned 404", ErrUnreachable)
	default:
		return nil, fmt.Errorf("%w: login returned %d", ErrUnexpected, status)
	}
}

// GetUserByID revalidates a persisted session against the backend.
func (c *Client) GetUserByID(ctx context.Context, token, userID string) (*identity.User, error) {
	var resp backendtypes.UserResponse
	status, err := c.do(ctx, http.MethodGet, "/user/id/"+url.PathEscape(userID), token, nil, &resp)
	if err != nil {
		return nil, err
	}

	switch status {
	case http.StatusOK:
		return &resp.Data, nil
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, ErrUnauthorized
	case http.StatusNotFound:
		return nil, ErrNotFound
	default:
		return nil, fmt.Errorf("%w: get user returned %d", ErrUnexpected, status)
	}
}

func (c *Client) UpdatePassword(ctx context.Context, token, userID, oldPassword, newPassword string) error {
	req := &backendtypes.UpdatePasswordRequest{
		ID:          userID,
		OldPassword: oldPassword,
		NewPassword: newPassword,
	}
	if err := req.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrBadRequest, err)
	}

	status, err := c.do(ctx, http.MethodPut, "/user/updatepass", token, req, nil)
	if err != nil {
		return err
	}

	switch status {
	case http.StatusOK, http.StatusNoContent:
		return nil
	case http.StatusBadRequest:
		return ErrBadRequest
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrUnauthorized
	default:
		return fmt.Errorf("%w: update password returned %d", ErrUnexpected, status)
	}
}

// FetchPermissionRecords satisfies access.Fetcher.
func (c *Client) FetchPermissionRecords(ctx context.Context, user *identity.User) ([]access.PermissionRecord, error) {
	if user == nil {
		return nil, fmt.Errorf("%w: no user", ErrBadRequest)
	}

	var resp backendtypes.RolesResponse
	status, err := c.do(ctx, http.MethodGet, "/roles/"+url.PathEscape(user.ID), user.Token, nil, &resp)
	if err != nil {
		return nil, err
	}

	switch status {
	case http.StatusOK:
		return []access.PermissionRecord(resp), nil
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, ErrUnauthorized
	case http.StatusNotFound:
		return nil, ErrNotFound
	default:
		return nil, fmt.Errorf("%w: roles returned %d", ErrUnexpected, status)
	}
}

// Ping reports whether the backend answers HTTP at all. Any status counts.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodHead, "/", "", nil, nil)
	return err
}

// do sends one request. Transport failures and timeouts come back as
// ErrUnreachable; any HTTP status is returned to the caller to classify.
// out is only decoded on 2xx.
func (c *Client) do(ctx context.Context, method, path, token string, body, out interface{}) (int, error) {
	ctx, cancel := internal.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("backend request failed",
			"method", method,
			"path", path,
			"timeout", isTimeout(err),
			"error", err)
		return 0, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	c.logger.Debug("backend request completed",
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"duration", time.Since(start))

	if out != nil && resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("%w: failed to decode response: %v", ErrUnexpected, err)
		}
	} else {
		_, _ = io.Copy(io.Discard, resp.Body)
	}

	return resp.StatusCode, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
