package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type ICEServer struct {
	URLs       []string `mapstructure:"urls"`
	Username   string   `mapstructure:"username"`
	Credential string   `mapstructure:"credential"`
}

type Config struct {
	Mode       string        `mapstructure:"mode"`
	APIPort    int           `mapstructure:"api_port"`
	SignalURL  string        `mapstructure:"signal_url"`
	UserID     string        `mapstructure:"user_id"`
	Login      string        `mapstructure:"login"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	LogLevel   string        `mapstructure:"log_level"`
	ICEServers []ICEServer   `mapstructure:"ice_servers"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetDefault("mode", "release")
	v.SetDefault("api_port", 8090)
	v.SetDefault("signal_url", "ws://localhost:8080/api/ws/signal")
	v.SetDefault("login", "guest")
	v.SetDefault("ping_period", "54s")
	v.SetDefault("log_level", "info")

	// TURN credentials come from the environment in deployments.
	v.SetDefault("turn_url", os.Getenv("TURN_SERVER_URL"))
	v.SetDefault("turn_username", os.Getenv("TURN_SERVER_USERNAME"))
	v.SetDefault("turn_credential", os.Getenv("TURN_SERVER_CREDENTIAL"))

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("config file not found (%s), using defaults\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if len(cfg.ICEServers) == 0 {
		cfg.ICEServers = []ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}}
		if turn := v.GetString("turn_url"); turn != "" {
			cfg.ICEServers = append(cfg.ICEServers, ICEServer{
				URLs:       []string{turn},
				Username:   v.GetString("turn_username"),
				Credential: v.GetString("turn_credential"),
			})
		}
	}
	return &cfg, nil
}
