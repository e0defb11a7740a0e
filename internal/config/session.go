// Package config loads and validates the session configuration: one
// YAML document merged with environment overrides.
package config

import (
	"errors"
	"fmt"
	"hash/fnv"
	"io/fs"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const SupportedSchema = "v1"

// KeyStrategy picks the broker partition key for a session's frames.
// Both keep every frame of one session on one partition, which is what
// preserves ordering downstream.
type KeyStrategy string

const (
	KeySession KeyStrategy = "session" // key = session id
	KeyStatic  KeyStrategy = "static"  // key = broker.static_key
)

type DeviceCfg struct {
	Driver       string         `koanf:"driver"` // replay|synth|…
	ID           string         `koanf:"id"`
	Channels     int            `koanf:"channels"`
	SamplingRate int            `koanf:"sampling_rate"`
	Config       map[string]any `koanf:"config"` // driver-specific block
}

type RetryCfg struct {
	Initial time.Duration `koanf:"initial"`
	Factor  float64       `koanf:"factor"`
	Max     time.Duration `koanf:"max"`
}

type BrokerCfg struct {
	Driver      string      `koanf:"driver"` // kafka|stdout
	Brokers     []string    `koanf:"brokers"`
	Topic       string      `koanf:"topic"`
	KeyStrategy KeyStrategy `koanf:"key_strategy"`
	StaticKey   string      `koanf:"static_key"`
	Acks        int16       `koanf:"required_acks"` // 0,1,-1
	Version     string      `koanf:"version"`
	TLSEn       bool        `koanf:"tls_enabled"`
	SASLUser    string      `koanf:"sasl_user"`
	SASLPass    string      `koanf:"sasl_pass"`
	Retry       RetryCfg    `koanf:"retry"`
}

type BatchCfg struct {
	Size   int           `koanf:"size"`
	Window time.Duration `koanf:"window"`
}

type QueueCfg struct {
	Capacity int    `koanf:"capacity"`
	Policy   string `koanf:"policy"` // block|drop_oldest
}

type ListenCfg struct {
	Enabled bool   `koanf:"enabled"`
	Topic   string `koanf:"topic"`
	GroupID string `koanf:"group_id"`
}

type LogCfg struct {
	Level string `koanf:"level"`
	JSON  bool   `koanf:"json"`
}

type Session struct {
	ID           string        `koanf:"id"`
	Device       DeviceCfg     `koanf:"device"`
	Broker       BrokerCfg     `koanf:"broker"`
	Batch        BatchCfg      `koanf:"batch"`
	Queue        QueueCfg      `koanf:"queue"`
	DrainTimeout time.Duration `koanf:"drain_timeout"`
	Listen       ListenCfg     `koanf:"listen"`
	MetricsPort  int           `koanf:"metrics_port"`
	Log          LogCfg        `koanf:"log"`
}

// SessionID is the numeric id carried in every frame header, derived
// from the configured string id.
func (s *Session) SessionID() uint64 {
	h := fnv.New64a()
	h.Write([]byte(s.ID))
	return h.Sum64()
}

// PartitionKey resolves the key strategy to the concrete key bytes.
func (s *Session) PartitionKey() []byte {
	if s.Broker.KeyStrategy == KeyStatic {
		return []byte(s.Broker.StaticKey)
	}
	return []byte(s.ID)
}

// Load merges YAML (if present) with env-vars
// (prefix `EEGSTREAM__`, delimiter `__`).
func Load(path string) (Session, error) {
	k := koanf.New(".")
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil &&
			!errors.Is(err, fs.ErrNotExist) {
			return Session{}, err
		}
	}
	sv := k.String("schema_version")
	if sv != "" && sv != SupportedSchema {
		return Session{}, fmt.Errorf("session schema_version %q not supported (want %s)", sv, SupportedSchema)
	}

	_ = k.Load(env.Provider("EEGSTREAM__", "__", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, "EEGSTREAM__"))
	}), nil)

	var cfg Session
	if err := k.Unmarshal("", &cfg); err != nil {
		return cfg, err
	}
	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(c *Session) {
	if c.ID == "" {
		c.ID = "eeg-session"
	}
	c.ID = strings.ReplaceAll(c.ID, " ", "_")
	if c.Device.Driver == "" {
		c.Device.Driver = "replay"
	}
	if c.Device.Channels == 0 {
		c.Device.Channels = 8
	}
	if c.Device.SamplingRate == 0 {
		c.Device.SamplingRate = 256
	}
	if c.Broker.Driver == "" {
		c.Broker.Driver = "kafka"
	}
	if c.Broker.KeyStrategy == "" {
		c.Broker.KeyStrategy = KeySession
	}
	if c.Broker.Retry.Initial == 0 {
		c.Broker.Retry.Initial = 500 * time.Millisecond
	}
	if c.Broker.Retry.Factor == 0 {
		c.Broker.Retry.Factor = 2
	}
	if c.Broker.Retry.Max == 0 {
		c.Broker.Retry.Max = 30 * time.Second
	}
	if c.Batch.Size == 0 {
		c.Batch.Size = 256
	}
	if c.Batch.Window == 0 {
		c.Batch.Window = time.Second
	}
	if c.Queue.Capacity == 0 {
		c.Queue.Capacity = 64
	}
	if c.Queue.Policy == "" {
		c.Queue.Policy = "block"
	}
	if c.DrainTimeout == 0 {
		c.DrainTimeout = 5 * time.Second
	}
	if c.Listen.GroupID == "" {
		c.Listen.GroupID = c.ID
	}
	if c.MetricsPort == 0 {
		c.MetricsPort = 9100
	}
}

func (s *Session) Validate() error {
	if s.Device.Channels < 0 || s.Device.SamplingRate < 0 {
		return fmt.Errorf("device: channels and sampling_rate must be positive")
	}
	switch s.Broker.KeyStrategy {
	case KeySession, KeyStatic:
	default:
		return fmt.Errorf("broker: unknown key_strategy %q", s.Broker.KeyStrategy)
	}
	if s.Broker.KeyStrategy == KeyStatic && s.Broker.StaticKey == "" {
		return fmt.Errorf("broker: static key strategy needs static_key")
	}
	switch s.Queue.Policy {
	case "block", "drop_oldest":
	default:
		return fmt.Errorf("queue: unknown policy %q", s.Queue.Policy)
	}
	if s.Broker.Driver == "kafka" && len(s.Broker.Brokers) == 0 {
		return fmt.Errorf("broker: kafka driver needs at least one broker address")
	}
	if s.Broker.Driver == "kafka" && s.Broker.Topic == "" {
		return fmt.Errorf("broker: topic is required")
	}
	if s.Listen.Enabled && s.Listen.Topic == "" {
		return fmt.Errorf("listen: enabled but no topic")
	}
	return nil
}
