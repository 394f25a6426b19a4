package config

import (
	"strings"
	"testing"
)

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		config  Config
		wantErr string
	}{
		{
			name:   "minimal",
			config: Config{ElasticsearchURL: "http://localhost:9200"},
		},
		{
			name: "authenticated",
			config: Config{
				ElasticsearchURL:      "https://es.internal:9200",
				ElasticsearchUsername: "discovery",
				ElasticsearchPassword: "secret",
			},
		},
		{
			name: "account filter",
			config: Config{
				ElasticsearchURL: "http://localhost:9200",
				AccountID:        "222222222222",
			},
		},
		{
			name:    "missing url",
			config:  Config{},
			wantErr: "required",
		},
		{
			name:    "bad scheme",
			config:  Config{ElasticsearchURL: "ftp://localhost:9200"},
			wantErr: "http or https",
		},
		{
			name:    "no host",
			config:  Config{ElasticsearchURL: "http://"},
			wantErr: "host",
		},
		{
			name: "password without username",
			config: Config{
				ElasticsearchURL:      "http://localhost:9200",
				ElasticsearchPassword: "secret",
			},
			wantErr: "username",
		},
		{
			name: "short account id",
			config: Config{
				ElasticsearchURL: "http://localhost:9200",
				AccountID:        "12345",
			},
			wantErr: "12-digit",
		},
		{
			name: "non-numeric account id",
			config: Config{
				ElasticsearchURL: "http://localhost:9200",
				AccountID:        "22222222222x",
			},
			wantErr: "12-digit",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.config.Validate()
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("Validate() = %v, want error containing %q", err, tc.wantErr)
			}
		})
	}
}
