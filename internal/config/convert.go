package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/danmuck/vcsrpc/internal/protocol/session"
	"github.com/danmuck/vcsrpc/internal/transport"
)

type transportFile struct {
	SendBuffer       int    `toml:"send_buffer"`
	RecvBuffer       int    `toml:"recv_buffer"`
	MaxWait          string `toml:"max_wait"`
	PollInterval     string `toml:"poll_interval"`
	CompressionLevel int    `toml:"compression_level"`
}

type flowFile struct {
	LoMark    int64 `toml:"lomark"`
	MinHiMark int64 `toml:"min_himark"`
}

type tlsFile struct {
	Mode               string `toml:"mode"`
	Enabled            bool   `toml:"enabled"`
	Mutual             bool   `toml:"mutual"`
	CertFile           string `toml:"cert_file"`
	KeyFile            string `toml:"key_file"`
	CAFile             string `toml:"ca_file"`
	ServerName         string `toml:"server_name"`
	InsecureSkipVerify bool   `toml:"insecure_skip_verify"`
}

type backoffFile struct {
	Initial     string  `toml:"initial"`
	Multiplier  float64 `toml:"multiplier"`
	Max         string  `toml:"max"`
	Jitter      bool    `toml:"jitter"`
	MaxAttempts int     `toml:"max_attempts"`
}

func parseDuration(key, raw string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return d, nil
}

func applyTransport(meta toml.MetaData, raw transportFile, out *transport.Options) error {
	if meta.IsDefined("transport", "send_buffer") {
		out.SendBufferSize = raw.SendBuffer
	}
	if meta.IsDefined("transport", "recv_buffer") {
		out.RecvBufferSize = raw.RecvBuffer
	}
	if meta.IsDefined("transport", "max_wait") {
		d, err := parseDuration("transport.max_wait", raw.MaxWait)
		if err != nil {
			return err
		}
		out.MaxWait = d
	}
	if meta.IsDefined("transport", "poll_interval") {
		d, err := parseDuration("transport.poll_interval", raw.PollInterval)
		if err != nil {
			return err
		}
		out.PollInterval = d
	}
	if meta.IsDefined("transport", "compression_level") {
		out.CompressionLevel = raw.CompressionLevel
	}
	return nil
}

func applyFlow(meta toml.MetaData, raw flowFile, out *session.Config) {
	if meta.IsDefined("flow", "lomark") {
		out.LoMark = raw.LoMark
	}
	if meta.IsDefined("flow", "min_himark") {
		out.MinHiMark = raw.MinHiMark
	}
}

func applyTLS(meta toml.MetaData, raw tlsFile, out *transport.SecurityConfig) {
	if meta.IsDefined("tls", "mode") {
		out.Mode = transport.NormalizeSecurityMode(transport.SecurityMode(raw.Mode))
	}
	if meta.IsDefined("tls", "enabled") {
		out.TLS.Enabled = raw.Enabled
	}
	if meta.IsDefined("tls", "mutual") {
		out.TLS.Mutual = raw.Mutual
	}
	if meta.IsDefined("tls", "cert_file") {
		out.TLS.CertFile = strings.TrimSpace(raw.CertFile)
	}
	if meta.IsDefined("tls", "key_file") {
		out.TLS.KeyFile = strings.TrimSpace(raw.KeyFile)
	}
	if meta.IsDefined("tls", "ca_file") {
		out.TLS.CAFile = strings.TrimSpace(raw.CAFile)
	}
	if meta.IsDefined("tls", "server_name") {
		out.TLS.ServerName = strings.TrimSpace(raw.ServerName)
	}
	if meta.IsDefined("tls", "insecure_skip_verify") {
		out.TLS.InsecureSkipVerify = raw.InsecureSkipVerify
	}
}

func applyBackoff(meta toml.MetaData, raw backoffFile, out *transport.BackoffConfig) error {
	if meta.IsDefined("backoff", "initial") {
		d, err := parseDuration("backoff.initial", raw.Initial)
		if err != nil {
			return err
		}
		out.InitialDelay = d
	}
	if meta.IsDefined("backoff", "multiplier") {
		out.Multiplier = raw.Multiplier
	}
	if meta.IsDefined("backoff", "max") {
		d, err := parseDuration("backoff.max", raw.Max)
		if err != nil {
			return err
		}
		out.MaxDelay = d
	}
	if meta.IsDefined("backoff", "jitter") {
		out.Jitter = raw.Jitter
	}
	if meta.IsDefined("backoff", "max_attempts") {
		out.MaxAttempts = raw.MaxAttempts
	}
	return nil
}
