// Package listener subscribes to the prediction-results topic and
// reports what the downstream analysis says about the signal being
// streamed. It runs beside the streaming loop and stops with the
// session.
package listener

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"

	"eegstream/internal/logging"
)

type Config struct {
	Brokers  []string
	Topic    string
	GroupID  string
	Version  string
	TLSEn    bool
	SASLUser string
	SASLPass string
}

// Result is one prediction message. T is the unix timestamp (seconds)
// of the window the labels describe; V holds the labels, first one
// authoritative: "pres" (seizure predicted) or "bckg" (background).
type Result struct {
	T float64  `json:"t"`
	V []string `json:"v"`
}

// DecodeResult parses a prediction payload.
func DecodeResult(raw []byte) (Result, error) {
	var r Result
	if err := json.Unmarshal(raw, &r); err != nil {
		return Result{}, fmt.Errorf("listener: decode result: %w", err)
	}
	if len(r.V) == 0 {
		return Result{}, fmt.Errorf("listener: result has no labels")
	}
	return r, nil
}

type Listener struct {
	cfg   Config
	cl    sarama.Client
	group sarama.ConsumerGroup
}

func New(cfg Config) (*Listener, error) {
	sc := sarama.NewConfig()
	if cfg.Version != "" {
		ver, err := sarama.ParseKafkaVersion(cfg.Version)
		if err != nil {
			return nil, err
		}
		sc.Version = ver
	}
	sc.Consumer.Offsets.Initial = sarama.OffsetOldest
	sc.Consumer.Return.Errors = true
	if cfg.TLSEn {
		sc.Net.TLS.Enable = true
	}
	if cfg.SASLUser != "" {
		sc.Net.SASL.Enable = true
		sc.Net.SASL.User, sc.Net.SASL.Password = cfg.SASLUser, cfg.SASLPass
	}

	cl, err := sarama.NewClient(cfg.Brokers, sc)
	if err != nil {
		return nil, fmt.Errorf("listener: connect: %w", err)
	}
	group, err := sarama.NewConsumerGroupFromClient(cfg.GroupID, cl)
	if err != nil {
		_ = cl.Close()
		return nil, err
	}
	return &Listener{cfg: cfg, cl: cl, group: group}, nil
}

// Run consumes until ctx is done. Consume returns on rebalance, so it
// loops.
func (l *Listener) Run(ctx context.Context) error {
	handler := &groupHandler{}
	for {
		if err := l.group.Consume(ctx, []string{l.cfg.Topic}, handler); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logging.L().Warn("listener consume", "err", err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (l *Listener) Close() error {
	_ = l.group.Close()
	return l.cl.Close()
}

type groupHandler struct{}

func (*groupHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (*groupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (*groupHandler) ConsumeClaim(
	sess sarama.ConsumerGroupSession,
	claim sarama.ConsumerGroupClaim,
) error {
	for msg := range claim.Messages() {
		Report(msg.Value)
		sess.MarkMessage(msg, "")
	}
	return nil
}

// Report logs one prediction result at a severity matching its label.
func Report(raw []byte) {
	res, err := DecodeResult(raw)
	if err != nil {
		logging.L().Warn("listener: unreadable result", "err", err)
		return
	}
	at := time.Unix(int64(res.T), 0).Format("15:04:05")
	switch res.V[0] {
	case "pres":
		logging.L().Error("seizure predicted in 10-15 min", "label", res.V[0], "window", at)
	case "bckg":
		logging.L().Info("signal looks all good", "label", res.V[0], "window", at)
	default:
		logging.L().Warn("unrecognized prediction label", "label", res.V[0], "window", at)
	}
}
