package config

import (
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
)

const (
	DefaultConfigPath   = "config.toml"
	DefaultHTTPAddr     = ":8080"
	DefaultHistoryPath  = "data/history.json"
	DefaultCatalogPath  = "products.csv"
	DefaultLinkBase     = "https://afaq-stores.com/product-details"
	DefaultGeminiModel  = "gemini-2.5-flash"
	DefaultMaxTurns     = 200
	DefaultDisplayWin   = 10
	DefaultTranscript   = 40
	DefaultFlushSeconds = 60
)

type Config struct {
	Log         LogConfig         `toml:"log"`
	Server      ServerConfig      `toml:"server"`
	History     HistoryConfig     `toml:"history"`
	Catalog     CatalogConfig     `toml:"catalog"`
	Gemini      GeminiConfig      `toml:"gemini"`
	WhatsApp    WhatsAppConfig    `toml:"whatsapp"`
	Telegram    TelegramConfig    `toml:"telegram"`
	Situational SituationalConfig `toml:"situational"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type ServerConfig struct {
	Addr string `toml:"addr" validate:"required"`
}

type HistoryConfig struct {
	Path             string `toml:"path" validate:"required"`
	MaxTurns         int    `toml:"max_turns" validate:"min=1"`
	DisplayWindow    int    `toml:"display_window" validate:"min=1"`
	TranscriptWindow int    `toml:"transcript_window" validate:"min=1"`
	FlushSeconds     int    `toml:"flush_interval_seconds" validate:"min=1"`
}

func (c HistoryConfig) FlushInterval() time.Duration {
	return time.Duration(c.FlushSeconds) * time.Second
}

type CatalogConfig struct {
	Path          string `toml:"path" validate:"required"`
	LinkBase      string `toml:"link_base" validate:"required,url"`
	ReloadSeconds int    `toml:"reload_interval_seconds" validate:"min=0"`
}

func (c CatalogConfig) ReloadInterval() time.Duration {
	return time.Duration(c.ReloadSeconds) * time.Second
}

type GeminiConfig struct {
	APIKey          string  `toml:"api_key"`
	Model           string  `toml:"model" validate:"required"`
	BaseURL         string  `toml:"base_url"`
	TimeoutSeconds  int     `toml:"timeout_seconds" validate:"min=1"`
	Temperature     float64 `toml:"temperature" validate:"min=0,max=2"`
	MaxOutputTokens int     `toml:"max_output_tokens" validate:"min=1"`
}

func (c GeminiConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

type WhatsAppConfig struct {
	AccessToken   string `toml:"access_token"`
	PhoneNumberID string `toml:"phone_number_id"`
	VerifyToken   string `toml:"verify_token"`
}

// Enabled reports whether outbound WhatsApp delivery is configured.
func (c WhatsAppConfig) Enabled() bool {
	return c.AccessToken != "" && c.PhoneNumberID != ""
}

type TelegramConfig struct {
	BotToken string `toml:"bot_token"`
}

func (c TelegramConfig) Enabled() bool {
	return c.BotToken != ""
}

type SituationalConfig struct {
	DefaultLocation    string `toml:"default_location" validate:"required"`
	DefaultTemperature string `toml:"default_temperature" validate:"required"`
	LookupSeconds      int    `toml:"lookup_timeout_seconds" validate:"min=1"`
}

func (c SituationalConfig) LookupTimeout() time.Duration {
	return time.Duration(c.LookupSeconds) * time.Second
}

// Load reads the TOML config at path (DefaultConfigPath when empty), applies
// environment overrides for secrets, and validates the result. A missing file
// yields the defaults.
func Load(path string) (Config, error) {
	cfg := Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Addr: DefaultHTTPAddr,
		},
		History: HistoryConfig{
			Path:             DefaultHistoryPath,
			MaxTurns:         DefaultMaxTurns,
			DisplayWindow:    DefaultDisplayWin,
			TranscriptWindow: DefaultTranscript,
			FlushSeconds:     DefaultFlushSeconds,
		},
		Catalog: CatalogConfig{
			Path:     DefaultCatalogPath,
			LinkBase: DefaultLinkBase,
		},
		Gemini: GeminiConfig{
			Model:           DefaultGeminiModel,
			TimeoutSeconds:  60,
			Temperature:     0.9,
			MaxOutputTokens: 2048,
		},
		Situational: SituationalConfig{
			DefaultLocation:    "القاهرة",
			DefaultTemperature: "25",
			LookupSeconds:      3,
		},
	}

	if path == "" {
		path = DefaultConfigPath
	}

	if _, err := os.Stat(path); err != nil {
		if !os.IsNotExist(err) {
			return cfg, err
		}
	} else if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, err
	}

	applyEnvOverrides(&cfg)

	if err := validator.New().Struct(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// applyEnvOverrides lets deployment secrets win over file values, using the
// variable names the hosting environment already provides.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		cfg.Gemini.APIKey = v
	}
	if v := os.Getenv("WHATSAPP_TOKEN"); v != "" {
		cfg.WhatsApp.AccessToken = v
	}
	if v := os.Getenv("PHONE_NUMBER_ID"); v != "" {
		cfg.WhatsApp.PhoneNumberID = v
	}
	if v := os.Getenv("WEBHOOK_VERIFY_TOKEN"); v != "" {
		cfg.WhatsApp.VerifyToken = v
	}
	if v := os.Getenv("TELEGRAM_TOKEN"); v != "" {
		cfg.Telegram.BotToken = v
	}
}
