package main

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	WhatsAppDataDir string `yaml:"whatsapp_data_dir"`

	GoogleCredentialsPath string `yaml:"google_credentials_path"`
	SpreadsheetID         string `yaml:"spreadsheet_id"`
	PromotersTab          string `yaml:"promoters_tab"`
	DefaultEvent          string `yaml:"default_event"`
	StoreStalenessMinutes int    `yaml:"store_staleness_minutes"`

	LLMModel        string `yaml:"llm_model"`
	AnthropicAPIKey string `yaml:"anthropic_api_key"`

	PortalBaseURL         string `yaml:"portal_base_url"`
	PortalUsername        string `yaml:"portal_username"`
	PortalPassword        string `yaml:"portal_password"`
	PortalHeadless        bool   `yaml:"portal_headless"`
	PortalZoneValue       string `yaml:"portal_zone_value"`
	PortalZoneLabel       string `yaml:"portal_zone_label"`
	PortalPriceValue      string `yaml:"portal_price_value"`
	PortalPriceLabel      string `yaml:"portal_price_label"`
	PortalTimeoutSeconds  int    `yaml:"portal_timeout_seconds"`
	SubmitPollSeconds     int    `yaml:"submit_poll_seconds"`
	SubmitPollMaxAttempts int    `yaml:"submit_poll_max_attempts"`

	SlackBotToken  string `yaml:"slack_bot_token"`
	SlackChannelID string `yaml:"slack_channel_id"`

	RefreshSchedule  string `yaml:"refresh_schedule"`
	ReminderSchedule string `yaml:"reminder_schedule"`
	Timezone         string `yaml:"timezone"`
}

func LoadConfig() Config {
	var cfg Config

	// Load from config.yaml if it exists
	configPath := "config.yaml"
	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		configPath = envPath
	}
	if data, err := os.ReadFile(configPath); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			log.Fatalf("Error parsing %s: %v", configPath, err)
		}
		log.Printf("Loaded config from %s", configPath)
	}

	// Env vars override YAML values
	envOverride(&cfg.WhatsAppDataDir, "WHATSAPP_DATA_DIR")
	envOverride(&cfg.GoogleCredentialsPath, "GOOGLE_CREDENTIALS_PATH")
	envOverride(&cfg.SpreadsheetID, "SPREADSHEET_ID")
	envOverride(&cfg.PromotersTab, "PROMOTERS_TAB")
	envOverride(&cfg.DefaultEvent, "DEFAULT_EVENT")
	envOverrideInt(&cfg.StoreStalenessMinutes, "STORE_STALENESS_MINUTES")
	envOverride(&cfg.LLMModel, "LLM_MODEL")
	envOverride(&cfg.AnthropicAPIKey, "ANTHROPIC_API_KEY")
	envOverride(&cfg.PortalBaseURL, "PORTAL_BASE_URL")
	envOverride(&cfg.PortalUsername, "PORTAL_USERNAME")
	envOverride(&cfg.PortalPassword, "PORTAL_PASSWORD")
	envOverrideBool(&cfg.PortalHeadless, "PORTAL_HEADLESS")
	envOverride(&cfg.PortalZoneValue, "PORTAL_ZONE_VALUE")
	envOverride(&cfg.PortalZoneLabel, "PORTAL_ZONE_LABEL")
	envOverride(&cfg.PortalPriceValue, "PORTAL_PRICE_VALUE")
	envOverride(&cfg.PortalPriceLabel, "PORTAL_PRICE_LABEL")
	envOverrideInt(&cfg.PortalTimeoutSeconds, "PORTAL_TIMEOUT_SECONDS")
	envOverrideInt(&cfg.SubmitPollSeconds, "SUBMIT_POLL_SECONDS")
	envOverrideInt(&cfg.SubmitPollMaxAttempts, "SUBMIT_POLL_MAX_ATTEMPTS")
	envOverride(&cfg.SlackBotToken, "SLACK_BOT_TOKEN")
	envOverride(&cfg.SlackChannelID, "SLACK_CHANNEL_ID")
	envOverride(&cfg.RefreshSchedule, "REFRESH_SCHEDULE")
	envOverride(&cfg.ReminderSchedule, "REMINDER_SCHEDULE")
	envOverride(&cfg.Timezone, "TIMEZONE")

	// Defaults
	if cfg.WhatsAppDataDir == "" {
		cfg.WhatsAppDataDir = "data"
	}
	if cfg.PromotersTab == "" {
		cfg.PromotersTab = "Promoters"
	}
	if cfg.DefaultEvent == "" {
		cfg.DefaultEvent = "General"
	}
	if cfg.StoreStalenessMinutes == 0 {
		cfg.StoreStalenessMinutes = 30
	}
	if cfg.PortalBaseURL == "" {
		cfg.PortalBaseURL = "https://planout.ar"
	}
	if cfg.PortalZoneValue == "" {
		cfg.PortalZoneValue = "0"
	}
	if cfg.PortalZoneLabel == "" {
		cfg.PortalZoneLabel = "Aforo Total"
	}
	if cfg.PortalTimeoutSeconds == 0 {
		cfg.PortalTimeoutSeconds = 30
	}
	if cfg.SubmitPollSeconds == 0 {
		cfg.SubmitPollSeconds = 1
	}
	if cfg.SubmitPollMaxAttempts == 0 {
		cfg.SubmitPollMaxAttempts = 60
	}
	if cfg.RefreshSchedule == "" {
		cfg.RefreshSchedule = "*/30 * * * *"
	}
	if cfg.ReminderSchedule == "" {
		cfg.ReminderSchedule = "0 10 * * 5"
	}
	if cfg.Timezone == "" {
		cfg.Timezone = "Local"
	}

	// Validate required fields
	required := map[string]string{
		"google_credentials_path": cfg.GoogleCredentialsPath,
		"spreadsheet_id":          cfg.SpreadsheetID,
	}
	for name, val := range required {
		if val == "" {
			log.Fatalf("Required config '%s' is not set (via config.yaml or env var)", name)
		}
	}

	if cfg.PortalUsername == "" || cfg.PortalPassword == "" {
		log.Println("Portal credentials not set; QR automation commands will be rejected")
	}
	if cfg.AnthropicAPIKey == "" {
		log.Println("anthropic_api_key not set; AI extraction and gender inference disabled")
	}

	if cfg.StoreStalenessMinutes < 1 {
		log.Fatalf("invalid store_staleness_minutes '%d': must be >= 1", cfg.StoreStalenessMinutes)
	}
	if cfg.SubmitPollMaxAttempts < 1 {
		log.Fatalf("invalid submit_poll_max_attempts '%d': must be >= 1", cfg.SubmitPollMaxAttempts)
	}

	if !strings.EqualFold(cfg.Timezone, "Local") {
		loc, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			log.Fatalf("invalid timezone '%s': %v", cfg.Timezone, err)
		}
		time.Local = loc
	}

	return cfg
}

func (c Config) PortalConfigured() bool {
	return c.PortalUsername != "" && c.PortalPassword != ""
}

func (c Config) AIConfigured() bool {
	return c.AnthropicAPIKey != ""
}

func (c Config) PortalTimeout() time.Duration {
	return time.Duration(c.PortalTimeoutSeconds) * time.Second
}

func (c Config) StoreStaleness() time.Duration {
	return time.Duration(c.StoreStalenessMinutes) * time.Minute
}

func envOverride(field *string, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		*field = val
	}
}

func envOverrideInt(field *int, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := strconv.Atoi(val)
		if err != nil {
			log.Fatalf("invalid %s '%s': %v", envKey, val, err)
		}
		*field = parsed
	}
}

func envOverrideBool(field *bool, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := strconv.ParseBool(val)
		if err != nil {
			log.Fatalf("invalid %s '%s': %v", envKey, val, err)
		}
		*field = parsed
	}
}
