package config

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	App         string
	Env         string
	ServerAddr  string
	DBDriver    string
	DatabaseURL string
	RedisAddr   string
	RedisPass   string

	JWTSecret       string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration

	MediaDir      string
	MaxImageBytes int64
	MaxAudioBytes int64

	VerifierURL     string
	VerifierTimeout time.Duration

	SMTPHost string
	SMTPPort int
	SMTPUser string
	SMTPPass string
	MailFrom string
	AppURL   string

	CORSOrigins        string
	LogDir             string
	RateLimitPerMinute int

	AdminEmail    string
	AdminPassword string
	BcryptCost    int
}

// LoadConfig reads .env (if present) and the process environment.
func LoadConfig() *Config {
	godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	setDefaults(v)

	return &Config{
		App:         v.GetString("APP"),
		Env:         v.GetString("APP_ENV"),
		ServerAddr:  v.GetString("PORT"),
		DBDriver:    v.GetString("DB_DRIVER"),
		DatabaseURL: v.GetString("DATABASE_URL"),
		RedisAddr:   v.GetString("REDIS_ADDR"),
		RedisPass:   v.GetString("REDIS_PASSWORD"),

		JWTSecret:       v.GetString("JWT_SECRET"),
		AccessTokenTTL:  v.GetDuration("ACCESS_TOKEN_TTL"),
		RefreshTokenTTL: v.GetDuration("REFRESH_TOKEN_TTL"),

		MediaDir:      v.GetString("MEDIA_DIR"),
		MaxImageBytes: v.GetInt64("MAX_IMAGE_BYTES"),
		MaxAudioBytes: v.GetInt64("MAX_AUDIO_BYTES"),

		VerifierURL:     v.GetString("VERIFIER_URL"),
		VerifierTimeout: v.GetDuration("VERIFIER_TIMEOUT"),

		SMTPHost: v.GetString("SMTP_HOST"),
		SMTPPort: v.GetInt("SMTP_PORT"),
		SMTPUser: v.GetString("SMTP_USER"),
		SMTPPass: v.GetString("SMTP_PASS"),
		MailFrom: v.GetString("MAIL_FROM"),
		AppURL:   v.GetString("APP_URL"),

		CORSOrigins:        v.GetString("CORS_ORIGINS"),
		LogDir:             v.GetString("LOG_DIR"),
		RateLimitPerMinute: v.GetInt("RATE_LIMIT_PER_MINUTE"),

		AdminEmail:    v.GetString("ADMIN_EMAIL"),
		AdminPassword: v.GetString("ADMIN_PASSWORD"),
		BcryptCost:    v.GetInt("BCRYPT_COST"),
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP", "disasterlink")
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("PORT", ":3000")
	v.SetDefault("DB_DRIVER", "postgres")
	v.SetDefault("DATABASE_URL", "host=localhost user=postgres password=postgres dbname=disasterlink port=5432 sslmode=disable")
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("ACCESS_TOKEN_TTL", "15m")
	v.SetDefault("REFRESH_TOKEN_TTL", "168h")
	v.SetDefault("MEDIA_DIR", "./storage")
	v.SetDefault("MAX_IMAGE_BYTES", 5*1024*1024)
	v.SetDefault("MAX_AUDIO_BYTES", 10*1024*1024)
	v.SetDefault("VERIFIER_TIMEOUT", "10s")
	v.SetDefault("SMTP_PORT", 587)
	v.SetDefault("MAIL_FROM", "alerts@disasterlink.local")
	v.SetDefault("APP_URL", "http://localhost:3000")
	v.SetDefault("CORS_ORIGINS", "*")
	v.SetDefault("LOG_DIR", "./logs")
	v.SetDefault("RATE_LIMIT_PER_MINUTE", 120)
	v.SetDefault("BCRYPT_COST", 10)
}

// IsProduction reports whether cookies should be marked secure.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}
