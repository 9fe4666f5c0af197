// Package crcon talks to a Community RCON server's HTTP API and implements
// the ban integration on top of its blacklist endpoints.
package crcon

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	defaultTimeout   = 60 * time.Second
	defaultPageSize  = 100
	maxErrorBodySize = 1 << 20 // 1 MiB

	// minMajorVersion is the oldest CRCON release with the blacklist API.
	minMajorVersion = 10
)

// RequiredPermissions are the blacklist permissions the API token owner needs
// unless they are a superuser.
var RequiredPermissions = []string{
	"can_view_blacklists",
	"can_create_blacklists",
	"can_add_blacklist_records",
	"can_change_blacklist_records",
	"can_delete_blacklist_records",
}

// ErrUnauthorized is returned when the API rejects the token.
var ErrUnauthorized = errors.New("crcon api key rejected")

var versionPattern = regexp.MustCompile(`^v(\d+)\.(\d+)\.(\d+)`)

type Client struct {
	// APIURL is the server's /api root.
	APIURL string
	APIKey string
	HTTP   *http.Client
}

func NewClient(apiURL, apiKey string) (*Client, error) {
	apiURL = strings.TrimRight(strings.TrimSpace(apiURL), "/")
	apiKey = strings.TrimSpace(apiKey)

	if apiURL == "" {
		return nil, errors.New("crcon api url is required")
	}
	if apiKey == "" {
		return nil, errors.New("crcon api key is required")
	}

	return &Client{
		APIURL: apiURL,
		APIKey: apiKey,
		HTTP:   &http.Client{Timeout: defaultTimeout},
	}, nil
}

// Record is one entry on a remote blacklist.
type Record struct {
	ID       int64
	PlayerID string
	Active   bool
}

// ServerName fetches the server's short display name.
func (c *Client) ServerName(ctx context.Context) (string, error) {
	var result struct {
		Name struct {
			ShortName string `json:"short_name"`
		} `json:"name"`
	}
	if err := c.get(ctx, "/get_public_info", nil, &result); err != nil {
		return "", err
	}
	return result.Name.ShortName, nil
}

// CheckVersion fetches the server version and fails when it predates the
// blacklist API.
func (c *Client) CheckVersion(ctx context.Context) error {
	var version string
	if err := c.get(ctx, "/get_version", nil, &version); err != nil {
		return err
	}

	match := versionPattern.FindStringSubmatch(strings.TrimSpace(version))
	if match == nil {
		return fmt.Errorf("unknown crcon version %q", strings.TrimSpace(version))
	}
	major, _ := strconv.Atoi(match[1])
	if major < minMajorVersion {
		return fmt.Errorf("outdated crcon version %q, v%d or above is required", strings.TrimSpace(version), minMajorVersion)
	}
	return nil
}

// MissingPermissions returns the required blacklist permissions the token
// owner lacks. Superusers implicitly hold everything.
func (c *Client) MissingPermissions(ctx context.Context) ([]string, error) {
	var result struct {
		IsSuperuser bool `json:"is_superuser"`
		Permissions []struct {
			Permission string `json:"permission"`
		} `json:"permissions"`
	}
	if err := c.get(ctx, "/get_own_user_permissions", nil, &result); err != nil {
		return nil, err
	}
	if result.IsSuperuser {
		return nil, nil
	}

	have := make(map[string]bool, len(result.Permissions))
	for _, p := range result.Permissions {
		have[p.Permission] = true
	}

	var missing []string
	for _, required := range RequiredPermissions {
		if !have[required] {
			missing = append(missing, required)
		}
	}
	return missing, nil
}

// CreateBlacklist provisions a kick-only blacklist and returns its id.
func (c *Client) CreateBlacklist(ctx context.Context, name string) (string, error) {
	var result struct {
		ID int64 `json:"id"`
	}
	err := c.post(ctx, "/create_blacklist", map[string]any{
		"name":        name,
		"sync_method": "kick_only",
	}, &result)
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(result.ID, 10), nil
}

// ValidateBlacklist checks the blacklist still exists. It lists all
// blacklists rather than fetching one because the single-blacklist endpoint
// also returns every record.
func (c *Client) ValidateBlacklist(ctx context.Context, blacklistID string) error {
	var result []struct {
		ID int64 `json:"id"`
	}
	if err := c.get(ctx, "/get_blacklists", nil, &result); err != nil {
		return err
	}
	for _, blacklist := range result {
		if strconv.FormatInt(blacklist.ID, 10) == blacklistID {
			return nil
		}
	}
	return fmt.Errorf("blacklist %s not found", blacklistID)
}

type AddRecordParams struct {
	BlacklistID string
	PlayerID    string
	Reason      string
}

// AddRecord places a permanent blacklist record and returns its id.
func (c *Client) AddRecord(ctx context.Context, params AddRecordParams) (string, error) {
	var result struct {
		ID int64 `json:"id"`
	}
	err := c.post(ctx, "/add_blacklist_record", map[string]any{
		"blacklist_id": params.BlacklistID,
		"player_id":    params.PlayerID,
		"reason":       params.Reason,
		"expires_at":   nil,
	}, &result)
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(result.ID, 10), nil
}

// ExpireRecord sets the record's expiry to now, deactivating the ban while
// keeping the audit trail. The API edits records via PUT with a numeric id.
func (c *Client) ExpireRecord(ctx context.Context, recordID string) error {
	id, err := strconv.ParseInt(recordID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid record id %q: %w", recordID, err)
	}
	return c.do(ctx, http.MethodPut, c.APIURL+"/edit_blacklist_record", map[string]any{
		"record_id":  id,
		"expires_at": time.Now().UTC().Format(time.RFC3339),
	}, nil)
}

// ListRecords pages through every record on the blacklist, inactive entries
// included.
func (c *Client) ListRecords(ctx context.Context, blacklistID string) ([]Record, error) {
	var out []Record
	for page := 1; ; page++ {
		params := url.Values{}
		params.Set("blacklist_id", blacklistID)
		params.Set("page_size", strconv.Itoa(defaultPageSize))
		params.Set("page", strconv.Itoa(page))

		var result struct {
			Records []struct {
				ID       int64  `json:"id"`
				PlayerID string `json:"player_id"`
				IsActive bool   `json:"is_active"`
			} `json:"records"`
			Total int `json:"total"`
		}
		if err := c.get(ctx, "/get_blacklist_records", params, &result); err != nil {
			return nil, err
		}

		for _, record := range result.Records {
			out = append(out, Record{
				ID:       record.ID,
				PlayerID: record.PlayerID,
				Active:   record.IsActive,
			})
		}

		if page*defaultPageSize >= result.Total {
			return out, nil
		}
	}
}

func (c *Client) get(ctx context.Context, endpoint string, params url.Values, result any) error {
	target := c.APIURL + endpoint
	if len(params) > 0 {
		target += "?" + params.Encode()
	}
	return c.do(ctx, http.MethodGet, target, nil, result)
}

func (c *Client) post(ctx context.Context, endpoint string, payload any, result any) error {
	return c.do(ctx, http.MethodPost, c.APIURL+endpoint, payload, result)
}

// do issues the request and unmarshals the CRCON envelope's "result" field
// into result.
func (c *Client) do(ctx context.Context, method, endpoint string, payload, result any) error {
	var reqBody io.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
	resp.Body.Close()
	if readErr != nil {
		return readErr
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("%s %s: %w", method, endpoint, ErrUnauthorized)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("crcon api failed: %s %s: %s", method, endpoint, resp.Status)
	}

	var envelope struct {
		Result json.RawMessage `json:"result"`
		Failed bool            `json:"failed"`
		Error  string          `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return fmt.Errorf("crcon api response malformed: %s %s: %w", method, endpoint, err)
	}
	if envelope.Failed {
		return fmt.Errorf("crcon api failed: %s %s: %s", method, endpoint, envelope.Error)
	}
	if result == nil || len(envelope.Result) == 0 {
		return nil
	}
	return json.Unmarshal(envelope.Result, result)
}
