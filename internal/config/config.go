package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds runtime configuration values for the chat API service.
type Config struct {
	AppName                string
	AppEnv                 string
	AppPort                string
	DatabaseURL            string
	RedisURL               string
	NATSURL                string
	JWTSecret              string
	CloudinaryCloudName    string
	CloudinaryAPIKey       string
	CloudinaryAPISecret    string
	CloudinaryUploadFolder string
	ChannelBase            string
	MaxMessageRunes        int
	UploadMaxMB            int
	SendRateLimit          int
	SendRateWindow         time.Duration
	TypingTimeout          time.Duration
	NotificationKeepAlive  time.Duration
}

// HTTPAddress returns the address the HTTP server should listen on.
func (c Config) HTTPAddress() string {
	if strings.HasPrefix(c.AppPort, ":") {
		return c.AppPort
	}

	return fmt.Sprintf(":%s", c.AppPort)
}

// Load reads configuration values from environment variables and optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("TREK")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("app.name", "Trekmates Chat API")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "8080")
	v.SetDefault("cloudinary.folder", "trekmates/chat")
	v.SetDefault("chat.channel_base", "trek")
	v.SetDefault("chat.max_message_runes", 2000)
	v.SetDefault("chat.upload_max_mb", 10)
	v.SetDefault("chat.send_rate_limit", 10)
	v.SetDefault("chat.send_rate_window", "1s")
	v.SetDefault("chat.typing_timeout", "2s")
	v.SetDefault("notifications.keepalive", "30s")

	window, err := time.ParseDuration(v.GetString("chat.send_rate_window"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid send rate window: %w", err)
	}

	typingTimeout, err := time.ParseDuration(v.GetString("chat.typing_timeout"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid typing timeout: %w", err)
	}

	keepAlive, err := time.ParseDuration(v.GetString("notifications.keepalive"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid notification keepalive: %w", err)
	}

	cfg := Config{
		AppName:                v.GetString("app.name"),
		AppEnv:                 v.GetString("app.env"),
		AppPort:                v.GetString("app.port"),
		DatabaseURL:            v.GetString("database.url"),
		RedisURL:               v.GetString("redis.url"),
		NATSURL:                v.GetString("nats.url"),
		JWTSecret:              v.GetString("jwt.secret"),
		CloudinaryCloudName:    v.GetString("cloudinary.cloud_name"),
		CloudinaryAPIKey:       v.GetString("cloudinary.api_key"),
		CloudinaryAPISecret:    v.GetString("cloudinary.api_secret"),
		CloudinaryUploadFolder: v.GetString("cloudinary.folder"),
		ChannelBase:            v.GetString("chat.channel_base"),
		MaxMessageRunes:        v.GetInt("chat.max_message_runes"),
		UploadMaxMB:            v.GetInt("chat.upload_max_mb"),
		SendRateLimit:          v.GetInt("chat.send_rate_limit"),
		SendRateWindow:         window,
		TypingTimeout:          typingTimeout,
		NotificationKeepAlive:  keepAlive,
	}

	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("jwt secret must be provided")
	}

	if cfg.MaxMessageRunes <= 0 {
		cfg.MaxMessageRunes = 2000
	}

	if cfg.UploadMaxMB <= 0 {
		cfg.UploadMaxMB = 10
	}

	return cfg, nil
}
