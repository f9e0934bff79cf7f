package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"

	"sros-rpc/inventory"
	"sros-rpc/protocol"
)

type config struct {
	Router        string
	Address       string
	Framing       string
	Timeout       time.Duration
	Rate          float64 // requests per second, 0 disables limiting
	Burst         int
	EtcdEndpoints []string
	LogLevel      string
	Routers       []inventory.Router
}

func defaultConfig() config {
	return config{
		Framing:  protocol.FramingEOM.String(),
		Timeout:  30 * time.Second,
		Burst:    1,
		LogLevel: "warn",
	}
}

type fileConfig struct {
	Router        string         `toml:"router"`
	Address       string         `toml:"address"`
	Framing       string         `toml:"framing"`
	Timeout       string         `toml:"timeout"`
	Rate          float64        `toml:"rate"`
	Burst         int            `toml:"burst"`
	EtcdEndpoints []string       `toml:"etcd_endpoints"`
	LogLevel      string         `toml:"log_level"`
	Routers       []routerConfig `toml:"routers"`
}

type routerConfig struct {
	Name    string `toml:"name"`
	Address string `toml:"address"`
	Framing string `toml:"framing"`
}

// loadFile overlays the keys present in the TOML file at path onto cfg.
func loadFile(path string, cfg *config) error {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return fmt.Errorf("load srosctl config: %w", err)
	}

	if meta.IsDefined("router") {
		cfg.Router = strings.TrimSpace(raw.Router)
	}
	if meta.IsDefined("address") {
		cfg.Address = strings.TrimSpace(raw.Address)
	}
	if meta.IsDefined("framing") {
		cfg.Framing = strings.TrimSpace(raw.Framing)
	}
	if meta.IsDefined("timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.Timeout))
		if err != nil {
			return fmt.Errorf("parse timeout: %w", err)
		}
		cfg.Timeout = d
	}
	if meta.IsDefined("rate") {
		cfg.Rate = raw.Rate
	}
	if meta.IsDefined("burst") {
		cfg.Burst = raw.Burst
	}
	if meta.IsDefined("etcd_endpoints") {
		cfg.EtcdEndpoints = normalizeList(raw.EtcdEndpoints)
	}
	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}

	for _, r := range raw.Routers {
		name := strings.TrimSpace(r.Name)
		if name == "" {
			return fmt.Errorf("router entry without name")
		}
		cfg.Routers = append(cfg.Routers, inventory.Router{
			Name:    name,
			Addr:    strings.TrimSpace(r.Address),
			Framing: strings.TrimSpace(r.Framing),
		})
	}
	return nil
}

type envConfig struct {
	Router        string        `env:"SROSCTL_ROUTER"`
	Address       string        `env:"SROSCTL_ADDRESS"`
	Framing       string        `env:"SROSCTL_FRAMING"`
	Timeout       time.Duration `env:"SROSCTL_TIMEOUT"`
	Rate          float64       `env:"SROSCTL_RATE"`
	Burst         int           `env:"SROSCTL_BURST"`
	EtcdEndpoints []string      `env:"SROSCTL_ETCD_ENDPOINTS" envSeparator:","`
	LogLevel      string        `env:"SROSCTL_LOG_LEVEL"`
}

// applyEnv overlays the SROSCTL_* variables that are set onto cfg.
func applyEnv(cfg *config) error {
	var e envConfig
	if err := env.Parse(&e); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}

	if e.Router != "" {
		cfg.Router = e.Router
	}
	if e.Address != "" {
		cfg.Address = e.Address
	}
	if e.Framing != "" {
		cfg.Framing = e.Framing
	}
	if e.Timeout != 0 {
		cfg.Timeout = e.Timeout
	}
	if e.Rate != 0 {
		cfg.Rate = e.Rate
	}
	if e.Burst != 0 {
		cfg.Burst = e.Burst
	}
	if len(e.EtcdEndpoints) > 0 {
		cfg.EtcdEndpoints = normalizeList(e.EtcdEndpoints)
	}
	if e.LogLevel != "" {
		cfg.LogLevel = e.LogLevel
	}
	return nil
}

func normalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
