package config

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/danmuck/vcsrpc/internal/protocol/session"
	"github.com/danmuck/vcsrpc/internal/transport"
)

// ServerConfig is the resolved configuration of vcsrpcd.
type ServerConfig struct {
	Name string
	// Listen is the tcp address of the RPC listener.
	Listen string
	// HTTPListen serves /metrics, /healthz and the /rpc websocket; empty
	// disables it.
	HTTPListen string
	// Root is the directory fetch serves files from.
	Root        string
	AcceptRate  float64
	AcceptBurst int
	// Compress makes the server start link compression on every session.
	Compress  bool
	Transport transport.Options
	Session   session.Config
	Security  transport.SecurityConfig
}

// ClientConfig is the resolved configuration of the vcsrpc client.
type ClientConfig struct {
	Name      string
	Addr      string
	Compress  bool
	Transport transport.Options
	Session   session.Config
	Security  transport.SecurityConfig
	Backoff   transport.BackoffConfig
}

func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Name:        "vcsrpcd",
		Listen:      "127.0.0.1:1666",
		Root:        ".",
		AcceptRate:  50,
		AcceptBurst: 10,
		Transport:   transport.DefaultOptions(),
		Session:     session.DefaultConfig(),
		Security:    transport.SecurityConfig{Mode: transport.SecurityModeDevelopment},
	}
}

func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Name:      "vcsrpc",
		Addr:      "tcp://127.0.0.1:1666",
		Transport: transport.DefaultOptions(),
		Session:   session.DefaultConfig(),
		Security:  transport.SecurityConfig{Mode: transport.SecurityModeDevelopment},
		Backoff:   transport.DefaultBackoff(),
	}
}

type serverFile struct {
	Name        string        `toml:"name"`
	Listen      string        `toml:"listen"`
	HTTPListen  string        `toml:"http_listen"`
	Root        string        `toml:"root"`
	AcceptRate  float64       `toml:"accept_rate"`
	AcceptBurst int           `toml:"accept_burst"`
	Compress    bool          `toml:"compress"`
	Transport   transportFile `toml:"transport"`
	Flow        flowFile      `toml:"flow"`
	TLS         tlsFile       `toml:"tls"`
}

type clientFile struct {
	Name      string        `toml:"name"`
	Addr      string        `toml:"addr"`
	Compress  bool          `toml:"compress"`
	Transport transportFile `toml:"transport"`
	Flow      flowFile      `toml:"flow"`
	TLS       tlsFile       `toml:"tls"`
	Backoff   backoffFile   `toml:"backoff"`
}

func LoadServerConfig(path string) (ServerConfig, error) {
	cfg := DefaultServerConfig()

	var raw serverFile
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return ServerConfig{}, fmt.Errorf("load server config: %w", err)
	}

	if meta.IsDefined("name") {
		cfg.Name = strings.TrimSpace(raw.Name)
	}
	if meta.IsDefined("listen") {
		cfg.Listen = strings.TrimSpace(raw.Listen)
	}
	if meta.IsDefined("http_listen") {
		cfg.HTTPListen = strings.TrimSpace(raw.HTTPListen)
	}
	if meta.IsDefined("root") {
		cfg.Root = strings.TrimSpace(raw.Root)
	}
	if meta.IsDefined("accept_rate") {
		cfg.AcceptRate = raw.AcceptRate
	}
	if meta.IsDefined("accept_burst") {
		cfg.AcceptBurst = raw.AcceptBurst
	}
	if meta.IsDefined("compress") {
		cfg.Compress = raw.Compress
	}
	if err := applyTransport(meta, raw.Transport, &cfg.Transport); err != nil {
		return ServerConfig{}, err
	}
	applyFlow(meta, raw.Flow, &cfg.Session)
	applyTLS(meta, raw.TLS, &cfg.Security)

	if err := ValidateServerConfig(cfg); err != nil {
		return ServerConfig{}, err
	}
	return cfg, nil
}

func LoadClientConfig(path string) (ClientConfig, error) {
	cfg := DefaultClientConfig()

	var raw clientFile
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return ClientConfig{}, fmt.Errorf("load client config: %w", err)
	}

	if meta.IsDefined("name") {
		cfg.Name = strings.TrimSpace(raw.Name)
	}
	if meta.IsDefined("addr") {
		cfg.Addr = strings.TrimSpace(raw.Addr)
	}
	if meta.IsDefined("compress") {
		cfg.Compress = raw.Compress
	}
	if err := applyTransport(meta, raw.Transport, &cfg.Transport); err != nil {
		return ClientConfig{}, err
	}
	applyFlow(meta, raw.Flow, &cfg.Session)
	applyTLS(meta, raw.TLS, &cfg.Security)
	if err := applyBackoff(meta, raw.Backoff, &cfg.Backoff); err != nil {
		return ClientConfig{}, err
	}

	if err := ValidateClientConfig(cfg); err != nil {
		return ClientConfig{}, err
	}
	return cfg, nil
}

func ValidateServerConfig(cfg ServerConfig) error {
	if strings.TrimSpace(cfg.Name) == "" {
		return fmt.Errorf("server config missing name")
	}
	if strings.TrimSpace(cfg.Listen) == "" && strings.TrimSpace(cfg.HTTPListen) == "" {
		return fmt.Errorf("server config needs listen or http_listen")
	}
	if cfg.AcceptRate < 0 || cfg.AcceptBurst < 0 {
		return fmt.Errorf("server config accept_rate and accept_burst must not be negative")
	}
	if err := validateFlow(cfg.Session); err != nil {
		return err
	}
	if err := cfg.Security.ValidateServer(); err != nil {
		return fmt.Errorf("server config tls: %w", err)
	}
	return nil
}

func ValidateClientConfig(cfg ClientConfig) error {
	if strings.TrimSpace(cfg.Addr) == "" {
		return fmt.Errorf("client config missing addr")
	}
	if err := validateFlow(cfg.Session); err != nil {
		return err
	}
	if err := cfg.Security.ValidateClient(); err != nil {
		return fmt.Errorf("client config tls: %w", err)
	}
	return nil
}

func validateFlow(cfg session.Config) error {
	if cfg.LoMark < 0 || cfg.MinHiMark < 0 {
		return fmt.Errorf("flow watermarks must not be negative")
	}
	if cfg.MinHiMark > 0 && cfg.LoMark > cfg.MinHiMark {
		return fmt.Errorf("flow lomark %d exceeds min_himark %d", cfg.LoMark, cfg.MinHiMark)
	}
	return nil
}
