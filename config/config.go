package config

import (
	"time"

	"github.com/pitabwire/frame/config"
)

// BotConfig holds configuration for the open-line bot.
type BotConfig struct {
	config.ConfigurationDefault

	// Bitrix24
	BitrixWebhookURL   string  `envDefault:""                  env:"BITRIX_WEBHOOK_URL"`
	BitrixPortalURL    string  `envDefault:""                  env:"BITRIX_PORTAL_URL"`
	BitrixBotID        string  `envDefault:"1347"              env:"BITRIX_BOT_ID"`
	BitrixClientID     string  `envDefault:""                  env:"BITRIX_CLIENT_ID"`
	BitrixAppToken     string  `envDefault:""                  env:"BITRIX_APP_TOKEN"`
	BitrixRatePerSec   float64 `envDefault:"2"                 env:"BITRIX_RATE_PER_SEC"`
	BitrixAllowPrivate bool    `envDefault:"false"             env:"BITRIX_ALLOW_PRIVATE"`
	MessageEvent       string  `envDefault:"ONIMBOTMESSAGEADD" env:"MESSAGE_EVENT"`

	// Dialog
	ScriptPath           string `envDefault:""      env:"SCRIPT_PATH"`
	ScriptWatch          bool   `envDefault:"false" env:"SCRIPT_WATCH"`
	LocatorLookupEnabled bool   `envDefault:"false" env:"LOCATOR_LOOKUP_ENABLED"`
	LeadSyncEnabled      bool   `envDefault:"false" env:"LEAD_SYNC_ENABLED"`
	DialogIdleTTLMin     int    `envDefault:"0"     env:"DIALOG_IDLE_TTL_MIN"`

	// Delivery
	DeliveryMaxRetries int `envDefault:"1"   env:"DELIVERY_MAX_RETRIES"`
	DeliveryTimeoutSec int `envDefault:"10"  env:"DELIVERY_TIMEOUT_SEC"`
	DeliveryBackoffMs  int `envDefault:"500" env:"DELIVERY_BACKOFF_MS"`
	CBFailThreshold    int `envDefault:"5"   env:"CB_FAILURE_THRESHOLD"`
	CBResetTimeoutSec  int `envDefault:"30"  env:"CB_RESET_TIMEOUT_SEC"`
}

// DialogIdleTTL is how long an untouched dialog is kept; zero disables reaping.
func (c *BotConfig) DialogIdleTTL() time.Duration {
	return time.Duration(c.DialogIdleTTLMin) * time.Minute
}

// DeliveryTimeout bounds a single Bitrix24 call.
func (c *BotConfig) DeliveryTimeout() time.Duration {
	return time.Duration(c.DeliveryTimeoutSec) * time.Second
}

// DeliveryBackoff is the wait before the first retry of a delivery call.
func (c *BotConfig) DeliveryBackoff() time.Duration {
	return time.Duration(c.DeliveryBackoffMs) * time.Millisecond
}
