package kafka

import (
	"errors"
	"fmt"

	"github.com/IBM/sarama"

	"eegstream/sink"
)

type Config struct {
	Brokers  []string `yaml:"brokers"`
	Topic    string   `yaml:"topic"`
	Acks     int16    `yaml:"required_acks"` // 0,1,-1
	Version  string   `yaml:"version"`
	TLSEn    bool     `yaml:"tls_enabled"`
	SASLUser string   `yaml:"sasl_user"`
	SASLPass string   `yaml:"sasl_pass"`
}

type driver struct {
	cfg Config
	p   sarama.SyncProducer
}

func (d *driver) Configure(c any) error {
	cfg, ok := c.(Config)
	if !ok {
		return fmt.Errorf("kafka-sink: want Config, got %T", c)
	}
	d.cfg = cfg

	sc := sarama.NewConfig()
	if cfg.Version != "" {
		ver, err := sarama.ParseKafkaVersion(cfg.Version)
		if err != nil {
			return err
		}
		sc.Version = ver
	}
	sc.Producer.RequiredAcks = sarama.RequiredAcks(cfg.Acks)
	sc.Producer.Return.Successes = true
	sc.Producer.Return.Errors = true
	// The publisher owns retries; in-client retries could resend a
	// frame after a later one has gone out.
	sc.Producer.Retry.Max = 0
	sc.Net.MaxOpenRequests = 1
	if cfg.TLSEn {
		sc.Net.TLS.Enable = true
	}
	if cfg.SASLUser != "" {
		sc.Net.SASL.Enable = true
		sc.Net.SASL.User, sc.Net.SASL.Password = cfg.SASLUser, cfg.SASLPass
	}

	p, err := sarama.NewSyncProducer(cfg.Brokers, sc)
	if err != nil {
		return fmt.Errorf("kafka-sink: connect: %w", err)
	}
	d.p = p
	return nil
}

func (d *driver) Send(key, value []byte) error {
	_, _, err := d.p.SendMessage(&sarama.ProducerMessage{
		Topic: d.cfg.Topic,
		Key:   sarama.ByteEncoder(key),
		Value: sarama.ByteEncoder(value),
	})
	return classify(err)
}

func (d *driver) Close() error {
	if d.p == nil {
		return nil
	}
	return d.p.Close()
}

// classify sorts broker errors into the publisher's retry taxonomy.
// Anything unrecognized counts as transient; only faults a retry can
// never fix are permanent.
func classify(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, sarama.ErrMessageSizeTooLarge),
		errors.Is(err, sarama.ErrInvalidMessage),
		errors.Is(err, sarama.ErrInvalidMessageSize):
		return sink.Permanent(err)
	}
	return sink.Transient(err)
}

func init() { sink.Register("kafka", func() sink.Driver { return &driver{} }) }
