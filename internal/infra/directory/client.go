package directory

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
	"time"

	"go.uber.org/zap"

	"github.com/cena261/traveloka-clone-sub001/internal/core/port"
	"github.com/cena261/traveloka-clone-sub001/internal/infra/config"
	"github.com/cena261/traveloka-clone-sub001/internal/repository"
)

const defaultTimeout = 10 * time.Second

// Client talks to the external identity directory over HTTP. Every call is
// bounded by the configured timeout; callers treat failures as retryable.
type Client struct {
	baseURL string
	token   string
	httpc   *http.Client
	logger  *zap.Logger
}

type principalBody struct {
	ExternalID string   `json:"external_id,omitempty"`
	Username   string   `json:"username"`
	Email      string   `json:"email"`
	Enabled    bool     `json:"enabled"`
	Roles      []string `json:"roles,omitempty"`
}

type roleBody struct {
	Role string `json:"role"`
}

// NewClient constructs a directory client from configuration.
func NewClient(cfg config.DirectorySettings, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		httpc:   &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// CreatePrincipal registers a principal with the provider and returns the
// provider-assigned external id.
func (c *Client) CreatePrincipal(ctx context.Context, principal port.DirectoryPrincipal) (string, error) {
	body := principalBody{
		Username: principal.Username,
		Email:    principal.Email,
		Enabled:  principal.Enabled,
		Roles:    principal.Roles,
	}

	var created principalBody
	if err := c.do(ctx, http.MethodPost, "/v1/principals", body, &created); err != nil {
		return "", fmt.Errorf("create directory principal: %w", err)
	}
	if created.ExternalID == "" {
		return "", fmt.Errorf("directory returned no external id")
	}
	return created.ExternalID, nil
}

// UpdatePrincipal pushes the local view of a linked principal.
func (c *Client) UpdatePrincipal(ctx context.Context, principal port.DirectoryPrincipal) error {
	if principal.ExternalID == "" {
		return fmt.Errorf("update directory principal: external id is empty")
	}
	body := principalBody{
		Username: principal.Username,
		Email:    principal.Email,
		Enabled:  principal.Enabled,
		Roles:    principal.Roles,
	}
	if err := c.do(ctx, http.MethodPut, "/v1/principals/"+url.PathEscape(principal.ExternalID), body, nil); err != nil {
		return fmt.Errorf("update directory principal: %w", err)
	}
	return nil
}

// DeletePrincipal removes a principal from the provider. Deleting an unknown
// principal is not an error.
func (c *Client) DeletePrincipal(ctx context.Context, externalID string) error {
	err := c.do(ctx, http.MethodDelete, "/v1/principals/"+url.PathEscape(externalID), nil, nil)
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("delete directory principal: %w", err)
	}
	return nil
}

// AssignRole grants a role on the provider side.
func (c *Client) AssignRole(ctx context.Context, externalID, role string) error {
	path := "/v1/principals/" + url.PathEscape(externalID) + "/roles"
	if err := c.do(ctx, http.MethodPost, path, roleBody{Role: role}, nil); err != nil {
		return fmt.Errorf("assign directory role: %w", err)
	}
	return nil
}

// RemoveRole revokes a role on the provider side. Removing a role the
// principal does not hold is not an error.
func (c *Client) RemoveRole(ctx context.Context, externalID, role string) error {
	path := "/v1/principals/" + url.PathEscape(externalID) + "/roles/" + url.PathEscape(role)
	err := c.do(ctx, http.MethodDelete, path, nil, nil)
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("remove directory role: %w", err)
	}
	return nil
}

// GetPrincipal fetches the provider view of a principal.
func (c *Client) GetPrincipal(ctx context.Context, externalID string) (*port.DirectoryPrincipal, error) {
	var body principalBody
	if err := c.do(ctx, http.MethodGet, "/v1/principals/"+url.PathEscape(externalID), nil, &body); err != nil {
		return nil, fmt.Errorf("get directory principal: %w", err)
	}
	return &port.DirectoryPrincipal{
		ExternalID: body.ExternalID,
		Username:   body.Username,
		Email:      body.Email,
		Enabled:    body.Enabled,
		Roles:      body.Roles,
	}, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return repository.ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response body: %w", err)
		}
	}
	return nil
}

func isNotFound(err error) bool {
	return errors.Is(err, repository.ErrNotFound)
}

var _ port.DirectoryProvider = (*Client)(nil)
