package configstore

import "testing"

func TestBattlemetricsConfigValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		config  BattlemetricsConfig
		wantErr bool
	}{
		{
			name: "valid",
			config: BattlemetricsConfig{
				APIKey:         "bm-key",
				OrganizationID: "1234",
			},
		},
		{
			name: "valid with whitespace",
			config: BattlemetricsConfig{
				APIKey:         "  bm-key  ",
				OrganizationID: " 1234 ",
			},
		},
		{
			name: "missing API key",
			config: BattlemetricsConfig{
				OrganizationID: "1234",
			},
			wantErr: true,
		},
		{
			name: "missing organization",
			config: BattlemetricsConfig{
				APIKey: "bm-key",
			},
			wantErr: true,
		},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			err := test.config.Validate()
			if test.wantErr && err == nil {
				t.Fatalf("Validate() error = nil, want error")
			}
			if !test.wantErr && err != nil {
				t.Fatalf("Validate() error = %v, want nil", err)
			}
		})
	}
}

func TestCRCONConfigValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		config  CRCONConfig
		wantErr bool
	}{
		{
			name: "valid",
			config: CRCONConfig{
				APIURL: "https://rcon.example.com/api",
				APIKey: "crcon-key",
			},
		},
		{
			name: "scheme added when missing",
			config: CRCONConfig{
				APIURL: "rcon.example.com/api",
				APIKey: "crcon-key",
			},
		},
		{
			name: "missing URL",
			config: CRCONConfig{
				APIKey: "crcon-key",
			},
			wantErr: true,
		},
		{
			name: "missing API key",
			config: CRCONConfig{
				APIURL: "https://rcon.example.com/api",
			},
			wantErr: true,
		},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			err := test.config.Validate()
			if test.wantErr && err == nil {
				t.Fatalf("Validate() error = nil, want error")
			}
			if !test.wantErr && err != nil {
				t.Fatalf("Validate() error = %v, want nil", err)
			}
		})
	}
}

func TestCRCONConfigNormalizedURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"https://rcon.example.com/api/", "https://rcon.example.com/api"},
		{"rcon.example.com", "https://rcon.example.com"},
		{"https://rcon.example.com/api?x=1#frag", "https://rcon.example.com/api"},
		{"  ", ""},
	}

	for _, test := range tests {
		got := CRCONConfig{APIURL: test.in}.Normalized().APIURL
		if got != test.want {
			t.Fatalf("Normalized APIURL(%q) = %q, want %q", test.in, got, test.want)
		}
	}
}

func TestMergeBattlemetricsConfig(t *testing.T) {
	t.Parallel()

	existing := BattlemetricsConfig{
		APIKey:         "old-key",
		OrganizationID: "1234",
		BanListID:      "list-1",
	}

	merged := MergeBattlemetricsConfig(existing, BattlemetricsConfig{
		APIKey:         "",
		OrganizationID: "5678",
	})
	if merged.APIKey != "old-key" {
		t.Fatalf("API key should be preserved when update key is blank")
	}
	if merged.OrganizationID != "5678" {
		t.Fatalf("unexpected merged organization = %q", merged.OrganizationID)
	}
	if merged.BanListID != "list-1" {
		t.Fatalf("ban list id should never change on merge")
	}

	merged = MergeBattlemetricsConfig(existing, BattlemetricsConfig{
		APIKey:         "new-key",
		OrganizationID: "1234",
	})
	if merged.APIKey != "new-key" {
		t.Fatalf("non-blank update key should replace stored key")
	}
}

func TestMergeCRCONConfig(t *testing.T) {
	t.Parallel()

	existing := CRCONConfig{
		APIURL:    "https://rcon.example.com/api",
		APIKey:    "old-key",
		BanListID: "7",
	}

	merged := MergeCRCONConfig(existing, CRCONConfig{
		APIURL: "rcon.other.com/api/",
	})
	if merged.APIKey != "old-key" {
		t.Fatalf("API key should be preserved when update key is blank")
	}
	if merged.APIURL != "https://rcon.other.com/api" {
		t.Fatalf("unexpected merged URL = %q", merged.APIURL)
	}
	if merged.BanListID != "7" {
		t.Fatalf("ban list id should never change on merge")
	}
}

func TestMaskSecret(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"abc", "****"},
		{"supersecretkey", "****tkey"},
	}

	for _, test := range tests {
		if got := MaskSecret(test.in); got != test.want {
			t.Fatalf("MaskSecret(%q) = %q, want %q", test.in, got, test.want)
		}
	}
}
