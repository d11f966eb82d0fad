package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type ICEServer struct {
	URLs       []string `mapstructure:"urls"`
	Username   string   `mapstructure:"username"`
	Credential string   `mapstructure:"credential"`
}

type Config struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	StaticPath string        `mapstructure:"static_path"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	Secret     string        `mapstructure:"secret"`

	// relay
	DBPath        string        `mapstructure:"db_path"`
	SendBuffer    int           `mapstructure:"send_buffer"`
	WriteLimit    int           `mapstructure:"write_limit"`
	WriteInterval time.Duration `mapstructure:"write_interval"`

	// peer
	ServerURL    string        `mapstructure:"server_url"`
	ICEServers   []ICEServer   `mapstructure:"ice_servers"`
	Video        bool          `mapstructure:"video"`
	Audio        bool          `mapstructure:"audio"`
	Synthetic    bool          `mapstructure:"synthetic"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// WebRTCServers converts the configured ICE servers for pion.
func (c *Config) WebRTCServers() []webrtc.ICEServer {
	out := make([]webrtc.ICEServer, 0, len(c.ICEServers))
	for _, s := range c.ICEServers {
		srv := webrtc.ICEServer{URLs: s.URLs}
		if s.Username != "" {
			srv.Username = s.Username
			srv.Credential = s.Credential
		}
		out = append(out, srv)
	}
	return out
}

func Load() (*Config, error) {
	return LoadWithFlags(nil)
}

// LoadWithFlags reads config/config.<CONFIG_ENV>.yaml, then TELECALL_*
// environment variables, then any flags set on fs.
func LoadWithFlags(fs *pflag.FlagSet) (*Config, error) {
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

	v.SetEnvPrefix("TELECALL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "./web")
	v.SetDefault("read_limit", 65536)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("secret", "telecall-dev-secret")
	v.SetDefault("db_path", "./data/telecall.db")
	v.SetDefault("send_buffer", 256)
	v.SetDefault("write_limit", 200)
	v.SetDefault("write_interval", "10s")
	v.SetDefault("server_url", "ws://localhost:8080/api/ws/store")
	v.SetDefault("ice_servers", []map[string]any{
		{"urls": []string{"stun:stun1.l.google.com:19302", "stun:stun2.l.google.com:19302"}},
	})
	v.SetDefault("video", true)
	v.SetDefault("audio", true)
	v.SetDefault("synthetic", false)
	v.SetDefault("write_timeout", "5s")

	if fs != nil {
		if err := v.BindPFlags(fs); err != nil {
			return nil, fmt.Errorf("failed to bind flags: %w", err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).Msg("config ready")
	return &cfg, nil
}
