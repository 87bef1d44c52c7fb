// Package client talks to the docflow HTTP API.
package client

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

	"go.pilab.hu/docflow/domain"
	serrors "go.pilab.hu/docflow/errors"
)

// Client is a thin JSON client for the document endpoints.
type Client struct {
	endpoint string
	http     *http.Client
}

// New returns a Client for endpoint, e.g. http://localhost:8080.
func New(endpoint string) (*Client, error) {
	if endpoint == "" {
		return nil, errors.New("server endpoint is required")
	}
	if _, err := url.ParseRequestURI(endpoint); err != nil {
		return nil, fmt.Errorf("invalid server endpoint %q: %w", endpoint, err)
	}
	return &Client{
		endpoint: strings.TrimRight(endpoint, "/"),
		http:     &http.Client{Timeout: 15 * time.Second},
	}, nil
}

// DeviceRequest is the body of a device registration.
type DeviceRequest struct {
	ID         string                   `json:"_id,omitempty"`
	Owner      string                   `json:"owner"`
	DeviceCode string                   `json:"device_code"`
	OAuthCreds *domain.OAuthCredentials `json:"oauth_creds,omitempty"`
}

// ChannelRequest is the body of a channel registration.
type ChannelRequest struct {
	ID     string `json:"_id,omitempty"`
	Name   string `json:"name"`
	Public bool   `json:"public"`
}

func (c *Client) CreateDevice(ctx context.Context, req DeviceRequest) (*domain.Meta, error) {
	var meta domain.Meta
	if err := c.do(ctx, http.MethodPost, "/devices", req, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

func (c *Client) CreateChannel(ctx context.Context, req ChannelRequest) (*domain.Meta, error) {
	var meta domain.Meta
	if err := c.do(ctx, http.MethodPost, "/channels", req, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

// Confirm follows the confirmation link for deviceCode.
func (c *Client) Confirm(ctx context.Context, deviceCode, code string) (*domain.Meta, error) {
	q := url.Values{}
	q.Set("device_code", deviceCode)
	q.Set("code", code)

	var meta domain.Meta
	if err := c.do(ctx, http.MethodGet, "/confirm?"+q.Encode(), nil, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

// Get returns the document as the server renders it.
func (c *Client) Get(ctx context.Context, id string) (map[string]any, error) {
	var doc map[string]any
	if err := c.do(ctx, http.MethodGet, "/docs/"+url.PathEscape(id), nil, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// List returns document headers, optionally of one type.
func (c *Client) List(ctx context.Context, docType domain.DocType) ([]domain.Meta, error) {
	path := "/docs"
	if docType != "" {
		path += "?type=" + url.QueryEscape(string(docType))
	}
	var metas []domain.Meta
	if err := c.do(ctx, http.MethodGet, path, nil, &metas); err != nil {
		return nil, err
	}
	return metas, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &serrors.WorkflowError{}
		if err := json.NewDecoder(resp.Body).Decode(apiErr); err != nil || apiErr.Code == "" {
			return fmt.Errorf("%s %s: %s", method, path, resp.Status)
		}
		return fmt.Errorf("%s %s: %w", method, path, apiErr)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
