package configstore

import (
	"encoding/json"
	"errors"
	"net/url"
	"strings"
)

type BattlemetricsConfig struct {
	APIKey         string `json:"api_key"`
	OrganizationID string `json:"organization_id"`
	BanListID      string `json:"ban_list_id"`
}

func (c BattlemetricsConfig) Normalized() BattlemetricsConfig {
	out := c
	out.APIKey = strings.TrimSpace(out.APIKey)
	out.OrganizationID = strings.TrimSpace(out.OrganizationID)
	out.BanListID = strings.TrimSpace(out.BanListID)
	return out
}

func (c BattlemetricsConfig) Validate() error {
	c = c.Normalized()
	if c.APIKey == "" {
		return errors.New("Battlemetrics API key is required")
	}
	if c.OrganizationID == "" {
		return errors.New("Battlemetrics organization ID is required")
	}
	return nil
}

type CRCONConfig struct {
	APIURL    string `json:"api_url"`
	APIKey    string `json:"api_key"`
	BanListID string `json:"ban_list_id"`
}

func (c CRCONConfig) Normalized() CRCONConfig {
	out := c
	out.APIURL = normalizeAPIURL(out.APIURL)
	out.APIKey = strings.TrimSpace(out.APIKey)
	out.BanListID = strings.TrimSpace(out.BanListID)
	return out
}

func (c CRCONConfig) Validate() error {
	c = c.Normalized()
	if c.APIURL == "" {
		return errors.New("CRCON API URL is required")
	}
	parsed, err := url.Parse(c.APIURL)
	if err != nil {
		return errors.New("CRCON API URL is invalid")
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return errors.New("CRCON API URL must use http or https")
	}
	if strings.TrimSpace(parsed.Hostname()) == "" {
		return errors.New("CRCON API URL host is required")
	}
	if c.APIKey == "" {
		return errors.New("CRCON API key is required")
	}
	return nil
}

func DecodeBattlemetricsConfig(raw []byte) (BattlemetricsConfig, error) {
	var cfg BattlemetricsConfig
	return cfg, decodeJSON(raw, &cfg)
}

func DecodeCRCONConfig(raw []byte) (CRCONConfig, error) {
	var cfg CRCONConfig
	return cfg, decodeJSON(raw, &cfg)
}

func EncodeConfig(v any) ([]byte, error) {
	return json.Marshal(v)
}

// MergeBattlemetricsConfig folds an update into an existing config. An empty
// API key in the update keeps the stored key, so clients never need to echo
// secrets back. The ban list id is owned by the integration and survives
// updates untouched.
func MergeBattlemetricsConfig(existing, update BattlemetricsConfig) BattlemetricsConfig {
	merged := existing
	merged.OrganizationID = strings.TrimSpace(update.OrganizationID)
	if key := strings.TrimSpace(update.APIKey); key != "" {
		merged.APIKey = key
	}
	return merged
}

func MergeCRCONConfig(existing, update CRCONConfig) CRCONConfig {
	merged := existing
	merged.APIURL = normalizeAPIURL(update.APIURL)
	if key := strings.TrimSpace(update.APIKey); key != "" {
		merged.APIKey = key
	}
	return merged
}

func MaskSecret(secret string) string {
	s := strings.TrimSpace(secret)
	if s == "" {
		return ""
	}
	if len(s) <= 4 {
		return "****"
	}
	return "****" + s[len(s)-4:]
}

func decodeJSON(raw []byte, dst any) error {
	if len(raw) == 0 {
		return nil
	}
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return nil
	}
	return json.Unmarshal(raw, dst)
}

func normalizeAPIURL(raw string) string {
	addr := strings.TrimSpace(raw)
	if addr == "" {
		return ""
	}
	if !strings.HasPrefix(addr, "http://") && !strings.HasPrefix(addr, "https://") {
		addr = "https://" + addr
	}
	parsed, err := url.Parse(addr)
	if err != nil {
		return strings.TrimRight(addr, "/")
	}
	parsed.Path = strings.TrimRight(parsed.Path, "/")
	parsed.RawQuery = ""
	parsed.Fragment = ""
	return strings.TrimSpace(parsed.String())
}
