// Package config holds the settings for one discovery run and their
// validation.
package config

import (
	"fmt"
	"net/url"
	"strings"
)

// Config holds all configuration for a discovery run.
type Config struct {
	ElasticsearchURL      string // Document store endpoint (http(s)://host:port)
	ElasticsearchUsername string // Optional basic-auth username
	ElasticsearchPassword string // Optional basic-auth password
	AWSRegion             string // Region the base AWS configuration is loaded for
	AccountID             string // Optional filter: restrict discovery to one account
	RegionID              string // Optional filter: restrict snapshot operations to one region
	Verbose               bool   // Development-style logging
}

// Validate ensures the required fields are present and well-formed.
func (c *Config) Validate() error {
	if c.ElasticsearchURL == "" {
		return fmt.Errorf("elasticsearch URL is required")
	}

	u, err := url.Parse(c.ElasticsearchURL)
	if err != nil {
		return fmt.Errorf("invalid elasticsearch URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("elasticsearch URL must use http or https")
	}
	if u.Host == "" {
		return fmt.Errorf("elasticsearch URL must include a host")
	}

	if c.ElasticsearchPassword != "" && c.ElasticsearchUsername == "" {
		return fmt.Errorf("elasticsearch password given without a username")
	}

	if c.AccountID != "" {
		if len(c.AccountID) != 12 || strings.TrimLeft(c.AccountID, "0123456789") != "" {
			return fmt.Errorf("account id must be a 12-digit AWS account id")
		}
	}

	return nil
}
