// Package battlemetrics talks to the Battlemetrics JSON:API and implements
// the ban integration on top of it.
package battlemetrics

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
)

const (
	defaultBaseURL       = "https://api.battlemetrics.com"
	defaultIntrospectURL = "https://www.battlemetrics.com/oauth/introspect"

	defaultTimeout   = 60 * time.Second
	defaultPageSize  = 100
	maxErrorBodySize = 1 << 20 // 1 MiB
)

// RequiredScopes are the token scopes the integration cannot operate without.
var RequiredScopes = []string{
	"ban:create",
	"ban:edit",
	"ban:delete",
	"ban-list:create",
	"ban-list:read",
	"rcon:read",
}

// ErrRemoteNotFound is returned when the API answers 404 for a resource we
// hold a reference to.
var ErrRemoteNotFound = errors.New("remote resource not found")

type Client struct {
	BaseURL       string
	IntrospectURL string
	APIKey        string
	HTTP          *http.Client
}

func NewClient(apiKey string) (*Client, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("battlemetrics api key is required")
	}

	return &Client{
		BaseURL:       defaultBaseURL,
		IntrospectURL: defaultIntrospectURL,
		APIKey:        apiKey,
		HTTP:          &http.Client{Timeout: defaultTimeout},
	}, nil
}

// Ban is one entry on a remote ban list.
type Ban struct {
	ID       string
	PlayerID string
	Expired  bool
}

// OrganizationName fetches the display name of an organization.
func (c *Client) OrganizationName(ctx context.Context, organizationID string) (string, error) {
	body, err := c.do(ctx, http.MethodGet, c.BaseURL+"/organizations/"+url.PathEscape(organizationID), nil)
	if err != nil {
		return "", err
	}

	var payload struct {
		Data struct {
			Attributes struct {
				Name string `json:"name"`
			} `json:"attributes"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", err
	}
	return payload.Data.Attributes.Name, nil
}

type AddBanParams struct {
	PlayerID       string
	IdentifierType string
	Reason         string
	Note           string
	OrganizationID string
	BanListID      string
}

// AddBan places a permanent ban on the ban list and returns the remote ban
// id.
func (c *Client) AddBan(ctx context.Context, params AddBanParams) (string, error) {
	payload := map[string]any{
		"data": map[string]any{
			"type": "ban",
			"attributes": map[string]any{
				"autoAddEnabled": true,
				"expires":        nil,
				"identifiers": []map[string]any{
					{
						"type":       params.IdentifierType,
						"identifier": params.PlayerID,
						"manual":     true,
					},
				},
				"nativeEnabled": nil,
				"reason":        params.Reason,
				"note":          params.Note,
			},
			"relationships": map[string]any{
				"organization": map[string]any{
					"data": map[string]any{"type": "organization", "id": params.OrganizationID},
				},
				"banList": map[string]any{
					"data": map[string]any{"type": "banList", "id": params.BanListID},
				},
			},
		},
	}

	body, err := c.do(ctx, http.MethodPost, c.BaseURL+"/bans", payload)
	if err != nil {
		return "", err
	}

	var resp struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", err
	}
	if resp.Data.ID == "" {
		return "", errors.New("battlemetrics ban response missing id")
	}
	return resp.Data.ID, nil
}

func (c *Client) RemoveBan(ctx context.Context, banID string) error {
	_, err := c.do(ctx, http.MethodDelete, c.BaseURL+"/bans/"+url.PathEscape(banID), nil)
	return err
}

// ExpireBan sets the ban's expiry to now, which deactivates it without
// deleting the audit trail.
func (c *Client) ExpireBan(ctx context.Context, banID string) error {
	payload := map[string]any{
		"data": map[string]any{
			"type": "ban",
			"attributes": map[string]any{
				"expires": time.Now().UTC().Format(time.RFC3339),
			},
		},
	}
	_, err := c.do(ctx, http.MethodPatch, c.BaseURL+"/bans/"+url.PathEscape(banID), payload)
	return err
}

// ListBans pages through every ban on the ban list, expired entries included.
func (c *Client) ListBans(ctx context.Context, banListID string) ([]Ban, error) {
	endpoint, err := url.Parse(c.BaseURL + "/bans")
	if err != nil {
		return nil, err
	}
	q := endpoint.Query()
	q.Set("filter[banList]", banListID)
	q.Set("page[size]", fmt.Sprintf("%d", defaultPageSize))
	endpoint.RawQuery = q.Encode()

	var out []Ban
	next := endpoint.String()
	for next != "" {
		body, err := c.do(ctx, http.MethodGet, next, nil)
		if err != nil {
			return nil, err
		}

		var page struct {
			Data []struct {
				ID         string `json:"id"`
				Attributes struct {
					ExpiresAt   string `json:"expires"`
					Identifiers []struct {
						Type       string `json:"type"`
						Identifier string `json:"identifier"`
					} `json:"identifiers"`
				} `json:"attributes"`
			} `json:"data"`
			Links struct {
				Next string `json:"next"`
			} `json:"links"`
		}
		if err := json.Unmarshal(body, &page); err != nil {
			return nil, err
		}

		for _, item := range page.Data {
			ban := Ban{ID: item.ID}
			for _, ident := range item.Attributes.Identifiers {
				if ident.Type == identifierSteamID || ident.Type == identifierWindowsID {
					ban.PlayerID = ident.Identifier
					break
				}
			}
			if item.Attributes.ExpiresAt != "" {
				if expires, err := time.Parse(time.RFC3339, item.Attributes.ExpiresAt); err == nil {
					ban.Expired = !expires.After(time.Now())
				}
			}
			out = append(out, ban)
		}

		next = page.Links.Next
	}
	return out, nil
}

type CreateBanListParams struct {
	Name           string
	OrganizationID string
}

// CreateBanList provisions a kick-action ban list owned by the organization
// and returns its id.
func (c *Client) CreateBanList(ctx context.Context, params CreateBanListParams) (string, error) {
	org := map[string]any{
		"data": map[string]any{"type": "organization", "id": params.OrganizationID},
	}
	payload := map[string]any{
		"data": map[string]any{
			"type": "banList",
			"attributes": map[string]any{
				"name":                  params.Name,
				"action":                "kick",
				"defaultIdentifiers":    []string{"steamID"},
				"defaultReasons":        []string{},
				"defaultAutoAddEnabled": true,
			},
			"relationships": map[string]any{
				"organization": org,
				"owner":        org,
			},
		},
	}

	body, err := c.do(ctx, http.MethodPost, c.BaseURL+"/ban-lists", payload)
	if err != nil {
		return "", err
	}

	var resp struct {
		Data struct {
			ID   string `json:"id"`
			Type string `json:"type"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", err
	}
	if resp.Data.Type != "banList" || resp.Data.ID == "" {
		return "", errors.New("battlemetrics ban list response malformed")
	}
	return resp.Data.ID, nil
}

// ValidateBanList checks the ban list exists and is owned by the expected
// organization.
func (c *Client) ValidateBanList(ctx context.Context, banListID, organizationID string) error {
	body, err := c.do(ctx, http.MethodGet, c.BaseURL+"/ban-lists/"+url.PathEscape(banListID)+"?include=owner", nil)
	if err != nil {
		return err
	}

	var resp struct {
		Data struct {
			ID            string `json:"id"`
			Relationships struct {
				Owner struct {
					Data struct {
						ID string `json:"id"`
					} `json:"data"`
				} `json:"owner"`
			} `json:"relationships"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return err
	}
	if resp.Data.ID != banListID {
		return fmt.Errorf("ban list id mismatch: asked for %s but got %s", banListID, resp.Data.ID)
	}
	if owner := resp.Data.Relationships.Owner.Data.ID; owner != organizationID {
		return fmt.Errorf("ban list owner mismatch: expected organization %s but got %s", organizationID, owner)
	}
	return nil
}

// Scopes introspects the API token and returns its granted scopes. An
// inactive token is an error.
func (c *Client) Scopes(ctx context.Context) ([]string, error) {
	body, err := c.do(ctx, http.MethodPost, c.IntrospectURL, map[string]any{"token": c.APIKey})
	if err != nil {
		return nil, err
	}

	var resp struct {
		Active bool   `json:"active"`
		Scope  string `json:"scope"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	if !resp.Active {
		return nil, errors.New("battlemetrics api key is not active")
	}
	return strings.Fields(resp.Scope), nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, payload any) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		reqBody = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
	resp.Body.Close()
	if readErr != nil {
		return nil, readErr
	}

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%s %s: %w", method, safeURL(endpoint), ErrRemoteNotFound)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, formatAPIError(method, endpoint, resp, body)
	}
	return body, nil
}

func formatAPIError(method, reqURL string, resp *http.Response, body []byte) error {
	message := extractAPIErrorMessage(body)
	if message != "" {
		return fmt.Errorf("battlemetrics api failed: %s %s: %s: %s", method, safeURL(reqURL), resp.Status, message)
	}
	return fmt.Errorf("battlemetrics api failed: %s %s: %s", method, safeURL(reqURL), resp.Status)
}

func extractAPIErrorMessage(body []byte) string {
	var payload struct {
		Errors []struct {
			Title  string `json:"title"`
			Detail string `json:"detail"`
		} `json:"errors"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && len(payload.Errors) > 0 {
		first := payload.Errors[0]
		if msg := strings.TrimSpace(first.Detail); msg != "" {
			return msg
		}
		if msg := strings.TrimSpace(first.Title); msg != "" {
			return msg
		}
	}

	msg := strings.TrimSpace(string(body))
	if msg == "" || strings.HasPrefix(msg, "<") {
		return ""
	}
	msg = strings.Join(strings.Fields(msg), " ")
	const maxLen = 300
	if len(msg) > maxLen {
		msg = msg[:maxLen]
	}
	return msg
}

func safeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}
