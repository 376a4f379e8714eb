package bybit

import (
	bybit_api "github.com/bybit-exchange/bybit.go.api"
)

const demoURL = "https://api-demo.bybit.com"

// Client wraps the Bybit v5 API client
type Client struct {
	httpClient *bybit_api.Client
	category   string
	testnet    bool
	demo       bool
}

// Config holds the configuration for the Bybit client
type Config struct {
	APIKey    string
	APISecret string
	Category  string // spot, linear, inverse
	Testnet   bool
	Demo      bool
}

// NewClient creates a new Bybit client
func NewClient(config Config) *Client {
	baseURL := bybit_api.MAINNET
	switch {
	case config.Demo:
		baseURL = demoURL
	case config.Testnet:
		baseURL = bybit_api.TESTNET
	}

	category := config.Category
	if category == "" {
		category = "spot"
	}

	return &Client{
		httpClient: bybit_api.NewBybitHttpClient(config.APIKey, config.APISecret, bybit_api.WithBaseURL(baseURL)),
		category:   category,
		testnet:    config.Testnet,
		demo:       config.Demo,
	}
}

// Category returns the configured product category
func (c *Client) Category() string {
	return c.category
}

// Environment returns "demo", "testnet" or "mainnet"
func (c *Client) Environment() string {
	switch {
	case c.demo:
		return "demo"
	case c.testnet:
		return "testnet"
	default:
		return "mainnet"
	}
}
