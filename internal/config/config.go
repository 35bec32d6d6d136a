package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/adilzhan/dealsync/internal/crm"
)

type HTTPConfig struct {
	Host string
	Port int
}

type DBConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime string
}

type AuthConfig struct {
	AccessSecret string
	TokenTTL     time.Duration
}

type CRMConfig struct {
	// WebhookURL is used as-is when set; otherwise WebhookEncrypted is
	// decrypted with the hex key/iv pair at startup.
	WebhookURL       string
	WebhookEncrypted string
	CryptoKeyHex     string
	CryptoIVHex      string
	Fields           crm.FieldCodes
}

type SyncConfig struct {
	// PrimaryCategory is the one CRM pipeline category this service
	// mirrors; deals from other categories are dropped before persist.
	PrimaryCategory int
	QuantityPolicy  string
}

type Config struct {
	Environment string
	HTTP        HTTPConfig
	DB          DBConfig
	Auth        AuthConfig
	CRM         CRMConfig
	Sync        SyncConfig
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("app")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("./deploy")
	v.AutomaticEnv()

	_ = v.ReadInConfig()

	codes := crm.DefaultFieldCodes()
	if raw := v.GetString("CRM_FIELD_DATE_CREATE"); raw != "" {
		codes.DateCreate = raw
	}
	if raw := v.GetString("CRM_FIELD_ASSIGNED_ID"); raw != "" {
		codes.AssignedID = raw
	}
	if raw := v.GetString("CRM_FIELD_CITY"); raw != "" {
		codes.City = raw
	}
	if raw := v.GetString("CRM_FIELD_SERVICE_PRICE"); raw != "" {
		codes.ServicePrice = raw
	}
	if raw := v.GetString("CRM_FIELD_MOVED"); raw != "" {
		codes.Moved = raw
	}
	if raw := v.GetString("CRM_FIELD_FAILED"); raw != "" {
		codes.Failed = raw
	}
	if raw := v.GetString("CRM_FIELD_AMOUNT_MISMATCH"); raw != "" {
		codes.AmountMismatch = raw
	}
	if raw := v.GetString("CRM_FIELD_COMMENT"); raw != "" {
		codes.Comment = raw
	}
	if raw := v.GetString("CRM_LOST_STAGE_ID"); raw != "" {
		codes.LostStageID = raw
	}

	cfg := &Config{
		Environment: v.GetString("APP_ENV"),
		HTTP: HTTPConfig{
			Host: v.GetString("HTTP_HOST"),
			Port: v.GetInt("HTTP_PORT"),
		},
		DB: DBConfig{
			DSN:             v.GetString("DB_DSN"),
			MaxOpenConns:    v.GetInt("DB_MAX_OPEN_CONNS"),
			MaxIdleConns:    v.GetInt("DB_MAX_IDLE_CONNS"),
			ConnMaxLifetime: v.GetString("DB_CONN_MAX_LIFETIME"),
		},
		Auth: AuthConfig{
			AccessSecret: v.GetString("JWT_ACCESS_SECRET"),
			TokenTTL:     v.GetDuration("JWT_TOKEN_TTL"),
		},
		CRM: CRMConfig{
			WebhookURL:       v.GetString("CRM_WEBHOOK_URL"),
			WebhookEncrypted: v.GetString("CRM_WEBHOOK_ENCRYPTED"),
			CryptoKeyHex:     v.GetString("CRYPTO_KEY"),
			CryptoIVHex:      v.GetString("CRYPTO_IV"),
			Fields:           codes,
		},
		Sync: SyncConfig{
			PrimaryCategory: v.GetInt("SYNC_PRIMARY_CATEGORY"),
			QuantityPolicy:  v.GetString("SYNC_QUANTITY_POLICY"),
		},
	}

	if cfg.Environment == "" {
		cfg.Environment = "development"
	}
	if cfg.HTTP.Host == "" {
		cfg.HTTP.Host = "0.0.0.0"
	}
	if cfg.HTTP.Port == 0 {
		cfg.HTTP.Port = 1328
	}
	if cfg.Auth.TokenTTL == 0 {
		cfg.Auth.TokenTTL = 24 * time.Hour
	}
	if cfg.Sync.QuantityPolicy == "" {
		cfg.Sync.QuantityPolicy = "remote"
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func validate(cfg *Config) error {
	if cfg.DB.DSN == "" {
		return fmt.Errorf("DB_DSN is required")
	}
	if cfg.Auth.AccessSecret == "" {
		return fmt.Errorf("JWT_ACCESS_SECRET is required")
	}
	if cfg.CRM.WebhookURL == "" && cfg.CRM.WebhookEncrypted == "" {
		return fmt.Errorf("CRM_WEBHOOK_URL or CRM_WEBHOOK_ENCRYPTED is required")
	}
	if cfg.CRM.WebhookEncrypted != "" && (cfg.CRM.CryptoKeyHex == "" || cfg.CRM.CryptoIVHex == "") {
		return fmt.Errorf("CRYPTO_KEY and CRYPTO_IV are required with CRM_WEBHOOK_ENCRYPTED")
	}
	if cfg.Sync.QuantityPolicy != "remote" && cfg.Sync.QuantityPolicy != "local" {
		return fmt.Errorf("SYNC_QUANTITY_POLICY must be remote or local")
	}
	return nil
}
