package merchant

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config is the configuration for the merchant application. Values load from
// an optional yaml file and may be overridden through the environment.
type Config struct {
	HTTPAddr string        `yaml:"http_addr"`
	DBDSN    string        `yaml:"db_dsn"`
	Gateway  GatewayConfig `yaml:"gateway"`
}

// GatewayConfig holds the Przelewy24 credentials and the callback URL
// templates. Templates may contain a {payment_id} placeholder.
type GatewayConfig struct {
	MerchantID      int    `yaml:"merchant_id"`
	PosID           int    `yaml:"pos_id"`
	APIKey          string `yaml:"api_key"`
	CRCKey          string `yaml:"crc_key"`
	Sandbox         bool   `yaml:"sandbox"`
	URLReturn       string `yaml:"url_return"`
	URLStatus       string `yaml:"url_status"`
	RefundURLStatus string `yaml:"refund_url_status"`
}

func DefaultConfig() *Config {
	return &Config{
		HTTPAddr: "localhost:8080",
		Gateway: GatewayConfig{
			Sandbox: true,
		},
	}
}

// LoadConfig reads the yaml file at path when given, then applies
// environment overrides.
func LoadConfig(path string) (*Config, error) {
	config := DefaultConfig()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, config); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	config.applyEnv()

	return config, nil
}

func (c *Config) applyEnv() {
	c.HTTPAddr = getenv("HTTP_ADDR", c.HTTPAddr)
	c.DBDSN = getenv("DB_DSN", c.DBDSN)
	c.Gateway.APIKey = getenv("P24_API_KEY", c.Gateway.APIKey)
	c.Gateway.CRCKey = getenv("P24_CRC_KEY", c.Gateway.CRCKey)
	c.Gateway.MerchantID = getenvInt("P24_MERCHANT_ID", c.Gateway.MerchantID)
	c.Gateway.PosID = getenvInt("P24_POS_ID", c.Gateway.PosID)
	if v := os.Getenv("P24_SANDBOX"); v != "" {
		c.Gateway.Sandbox = v == "true"
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getenvInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
