package config

import (
	"fmt"
	"os"

	"github.com/spf13/viper"
)

type Config struct {
	Mode      string `mapstructure:"mode"`
	Port      int    `mapstructure:"port"`
	ServerURL string `mapstructure:"server_url"`

	Room  string `mapstructure:"room"`
	User  string `mapstructure:"user"`
	Token string `mapstructure:"token"`

	ICEServers         []string `mapstructure:"ice_servers"`
	SubscribeToStreams bool     `mapstructure:"subscribe_to_streams"`
	Loopback           bool     `mapstructure:"loopback"`
	// candidate_target: "all" or "webcam"
	CandidateTarget string `mapstructure:"candidate_target"`
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
	v.SetDefault("port", 8081)
	v.SetDefault("server_url", "wss://localhost:8443/room")
	v.SetDefault("room", "main")
	v.SetDefault("user", "guest")
	v.SetDefault("subscribe_to_streams", true)
	v.SetDefault("loopback", false)
	v.SetDefault("candidate_target", "all")

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("⚠️ Config file not found (%s), using defaults\n", fileName)
	} else {
		fmt.Printf("✅ Loaded config: %s\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	fmt.Printf("🧩 Mode: %s | Room: %s | User: %s | Server: %s\n", cfg.Mode, cfg.Room, cfg.User, cfg.ServerURL)
	return &cfg, nil
}
