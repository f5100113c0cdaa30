package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	coredatabase "github.com/0xBitWishper/buybots/core/database"
)

// TelegramConfig holds Telegram bot related settings.
type TelegramConfig struct {
	Token   string `yaml:"token" envconfig:"BOT_TOKEN"`
	AdminID int64  `yaml:"admin_id" envconfig:"TELEGRAM_ADMIN_ID"`
	RunMode string `yaml:"run_mode" envconfig:"TELEGRAM_RUN_MODE"`
	// LongPollTimeoutSeconds defines long polling timeout; 0 -> default
	LongPollTimeoutSeconds int `yaml:"longpoll_timeout_seconds" envconfig:"TELEGRAM_LONGPOLL_TIMEOUT_SECONDS"`
	// GroupDeepLink is the t.me add-to-group URL shown in the welcome message.
	GroupDeepLink string `yaml:"group_deep_link" envconfig:"TELEGRAM_GROUP_DEEP_LINK"`
}

// WebhookConfig specifies webhook settings.
type WebhookConfig struct {
	URL    string `yaml:"url" envconfig:"WEBHOOK_URL"`
	Listen string `yaml:"listen" envconfig:"WEBHOOK_LISTEN"`
	Port   int    `yaml:"port" envconfig:"WEBHOOK_PORT"`
}

// LoggingConfig defines logging related configuration.
type LoggingConfig struct {
	Level       string `yaml:"level"`
	Format      string `yaml:"format"`
	KeysOrder   string `yaml:"keys_order"`
	DebugSample string `yaml:"debug_sample"`
	Dir         string `yaml:"dir"`
	BotFile     string `yaml:"bot_file"`
	// Profile indicates environment profile such as "debug" or "prod".
	Profile string `yaml:"profile"`
}

// NetworkConfig describes one supported blockchain network.
type NetworkConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
	// RPCURL must be a websocket endpoint; transfer streams need live subscriptions.
	RPCURL string `yaml:"rpc_url"`
	// ExplorerTxURL is the canonical transaction explorer prefix, e.g.
	// https://bscscan.com/tx/
	ExplorerTxURL string `yaml:"explorer_tx_url"`
	// Routers is the allow-list of exchange router addresses whose outgoing
	// transfers count as purchases. Normalized to lowercase hex on load.
	Routers []string `yaml:"routers"`
}

// NotifyConfig tunes notification formatting.
type NotifyConfig struct {
	// AmountPrecision is the number of fractional digits shown for token amounts.
	AmountPrecision int `yaml:"amount_precision" envconfig:"NOTIFY_AMOUNT_PRECISION"`
}

const (
	// RunModeWebhook selects webhook mode for Telegram updates.
	RunModeWebhook = "webhook"
	// RunModeLongpoll selects long-polling mode for Telegram updates.
	RunModeLongpoll = "longpoll"
)

const (
	// UpdateCallback identifies callback updates for rate limit exclusions.
	UpdateCallback = "callback"
	// UpdateMessage identifies message updates for rate limit exclusions.
	UpdateMessage = "message"
)

// RateLimitConfig holds settings for rate limiting.
// ExcludeUpdates accepts update types to bypass limiting: "callback", "message".
type RateLimitConfig struct {
	IntervalMS     int      `yaml:"interval_ms" envconfig:"RATE_LIMIT_INTERVAL_MS"`
	ExcludeUpdates []string `yaml:"exclude_updates" envconfig:"RATE_LIMIT_EXCLUDE_UPDATES"`
}

// Config aggregates the whole bot configuration.
type Config struct {
	Telegram  TelegramConfig      `yaml:"telegram"`
	Webhook   WebhookConfig       `yaml:"webhook"`
	Logging   LoggingConfig       `yaml:"logging"`
	RateLimit RateLimitConfig     `yaml:"rate_limit"`
	Database  coredatabase.Config `yaml:"database"`
	Networks  []NetworkConfig     `yaml:"networks"`
	Notify    NotifyConfig        `yaml:"notify"`
}

// Load reads configuration from a YAML file and environment variables.
func Load(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process env: %w", err)
	}

	if err := Normalize(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Normalize performs basic validation of required configuration fields and adjusts defaults.
func Normalize(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}

	if cfg.Telegram.Token == "" {
		return fmt.Errorf("telegram token is required")
	}

	rm := strings.ToLower(strings.TrimSpace(cfg.Telegram.RunMode))
	if rm == "" {
		rm = RunModeLongpoll
	}
	if rm == "polling" { // accept alias
		rm = RunModeLongpoll
	}
	switch rm {
	case RunModeWebhook:
		if strings.TrimSpace(cfg.Webhook.URL) == "" {
			return fmt.Errorf("webhook.url is required when telegram.run_mode is 'webhook'")
		}
		if strings.TrimSpace(cfg.Webhook.Listen) == "" {
			return fmt.Errorf("webhook.listen is required when telegram.run_mode is 'webhook'")
		}
		if cfg.Webhook.Port <= 0 {
			return fmt.Errorf("webhook.port must be > 0 when telegram.run_mode is 'webhook'")
		}
	case RunModeLongpoll:
		if cfg.Telegram.LongPollTimeoutSeconds < 0 {
			return fmt.Errorf("telegram.longpoll_timeout_seconds must be >= 0")
		}
	default:
		return fmt.Errorf("invalid telegram.run_mode %q; allowed: webhook, longpoll", cfg.Telegram.RunMode)
	}
	cfg.Telegram.RunMode = rm

	allowed := map[string]struct{}{
		UpdateCallback: {},
		UpdateMessage:  {},
	}
	for i, v := range cfg.RateLimit.ExcludeUpdates {
		key := strings.ToLower(strings.TrimSpace(v))
		if key == "" {
			continue
		}
		if _, ok := allowed[key]; !ok {
			return fmt.Errorf("invalid rate_limit.exclude_updates value %q; allowed: callback, message", v)
		}
		cfg.RateLimit.ExcludeUpdates[i] = key
	}

	if err := normalizeNetworks(cfg.Networks); err != nil {
		return err
	}

	if cfg.Notify.AmountPrecision <= 0 {
		cfg.Notify.AmountPrecision = 4
	}
	return nil
}

func normalizeNetworks(networks []NetworkConfig) error {
	if len(networks) == 0 {
		return fmt.Errorf("at least one network must be configured")
	}
	seen := make(map[string]struct{}, len(networks))
	for i := range networks {
		n := &networks[i]
		n.ID = strings.TrimSpace(n.ID)
		if n.ID == "" {
			return fmt.Errorf("networks[%d].id is required", i)
		}
		if _, dup := seen[n.ID]; dup {
			return fmt.Errorf("duplicate network id %q", n.ID)
		}
		seen[n.ID] = struct{}{}
		if n.Name == "" {
			n.Name = n.ID
		}
		if strings.TrimSpace(n.RPCURL) == "" {
			return fmt.Errorf("networks[%s].rpc_url is required", n.ID)
		}
		if strings.TrimSpace(n.ExplorerTxURL) == "" {
			return fmt.Errorf("networks[%s].explorer_tx_url is required", n.ID)
		}
		for j, r := range n.Routers {
			addr := strings.ToLower(strings.TrimSpace(r))
			if !isHexAddress(addr) {
				return fmt.Errorf("networks[%s].routers[%d] is not a valid address: %q", n.ID, j, r)
			}
			n.Routers[j] = addr
		}
	}
	return nil
}

// Network returns the configuration for the given network id.
func (c *Config) Network(id string) (NetworkConfig, bool) {
	for _, n := range c.Networks {
		if n.ID == id {
			return n, true
		}
	}
	return NetworkConfig{}, false
}

func isHexAddress(s string) bool {
	if !strings.HasPrefix(s, "0x") || len(s) != 42 {
		return false
	}
	for _, r := range s[2:] {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'f':
		default:
			return false
		}
	}
	return true
}
