package engine

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"eegstream/internal/config"
	"eegstream/internal/listener"
	"eegstream/internal/stream"
	"eegstream/internal/telemetry"
	"eegstream/sink"
	"eegstream/sink/kafka"
	"eegstream/sink/stdout"
	"eegstream/source"
)

// Bootstrap builds a session from its configuration: device adapter,
// broker driver, publisher, streaming loop, and the optional result
// listener. Startup failures here are fatal; nothing has streamed yet.
func Bootstrap(sess config.Session) (*Engine, error) {
	src, err := source.NewAdapter(sess.Device.Driver)
	if err != nil {
		return nil, err
	}
	if err := src.Configure(source.Config{
		DeviceID:     sess.Device.ID,
		Channels:     sess.Device.Channels,
		SamplingRate: sess.Device.SamplingRate,
		Driver:       sess.Device.Config,
	}); err != nil {
		return nil, fmt.Errorf("source: %w", err)
	}

	drv, err := sink.NewDriver(sess.Broker.Driver)
	if err != nil {
		_ = src.Close()
		return nil, err
	}
	var drvCfg any
	switch sess.Broker.Driver {
	case "kafka":
		drvCfg = kafka.Config{
			Brokers:  sess.Broker.Brokers,
			Topic:    sess.Broker.Topic,
			Acks:     sess.Broker.Acks,
			Version:  sess.Broker.Version,
			TLSEn:    sess.Broker.TLSEn,
			SASLUser: sess.Broker.SASLUser,
			SASLPass: sess.Broker.SASLPass,
		}
	case "stdout":
		drvCfg = stdout.Config{PrintCounter: true}
	default:
		drvCfg = nil
	}
	if err := drv.Configure(drvCfg); err != nil {
		_ = src.Close()
		return nil, fmt.Errorf("sink: %w", err)
	}

	metrics := telemetry.NewMetrics(prometheus.DefaultRegisterer)
	pub := sink.NewPublisher(drv, sink.Config{
		QueueCapacity: sess.Queue.Capacity,
		Policy:        sink.Policy(sess.Queue.Policy),
		Retry: sink.RetryConfig{
			Initial: sess.Broker.Retry.Initial,
			Factor:  sess.Broker.Retry.Factor,
			Max:     sess.Broker.Retry.Max,
		},
	}, metrics)

	loop := stream.New(src, pub, stream.Config{
		SessionID:    sess.SessionID(),
		Key:          sess.PartitionKey(),
		Channels:     sess.Device.Channels,
		BatchSize:    sess.Batch.Size,
		BatchWindow:  sess.Batch.Window,
		DrainTimeout: sess.DrainTimeout,
	}, metrics)

	var lst *listener.Listener
	if sess.Listen.Enabled {
		lst, err = listener.New(listener.Config{
			Brokers:  sess.Broker.Brokers,
			Topic:    sess.Listen.Topic,
			GroupID:  sess.Listen.GroupID,
			Version:  sess.Broker.Version,
			TLSEn:    sess.Broker.TLSEn,
			SASLUser: sess.Broker.SASLUser,
			SASLPass: sess.Broker.SASLPass,
		})
		if err != nil {
			_ = src.Close()
			_ = drv.Close()
			return nil, fmt.Errorf("listener: %w", err)
		}
	}

	telemetry.Expose(sess.MetricsPort)

	return &Engine{loop: loop, listener: lst}, nil
}
