// Package nats is the NATS Core broker.
package nats

import (
	"context"
	"errors"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmnats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	nc "github.com/nats-io/nats.go"

	"github.com/drblury/polyflow/transport"
)

const TransportName = "nats"

const (
	reconnectWait = 2 * time.Second
	maxReconnects = 60
)

var PublisherFactory = func(cfg wmnats.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return wmnats.NewPublisher(cfg, logger)
}

var SubscriberFactory = func(cfg wmnats.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return wmnats.NewSubscriber(cfg, logger)
}

func init() {
	transport.Register(TransportName, Build, transport.NATSCapabilities)
}

// ConnectOptions names the connection after the service and keeps
// reconnecting through short outages.
func ConnectOptions(service string) []nc.Option {
	opts := []nc.Option{
		nc.MaxReconnects(maxReconnects),
		nc.ReconnectWait(reconnectWait),
	}
	if service != "" {
		opts = append(opts, nc.Name(service))
	}
	return opts
}

// Build uses core NATS without JetStream. Subscribers join a queue group
// named after the service so replicas share messages.
func Build(_ context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	url := cfg.GetNATSURL()
	if url == "" {
		return transport.Transport{}, errors.New("nats: URL is required")
	}
	service := cfg.GetServiceName()
	marshaler := &wmnats.NATSMarshaler{}
	jetStream := wmnats.JetStreamConfig{Disabled: true}

	publisher, err := PublisherFactory(wmnats.PublisherConfig{
		URL:         url,
		NatsOptions: ConnectOptions(service),
		Marshaler:   marshaler,
		JetStream:   jetStream,
	}, logger)
	if err != nil {
		return transport.Transport{}, err
	}

	subscriber, err := SubscriberFactory(wmnats.SubscriberConfig{
		URL:              url,
		QueueGroupPrefix: service,
		NatsOptions:      ConnectOptions(service),
		Unmarshaler:      marshaler,
		JetStream:        jetStream,
	}, logger)
	if err != nil {
		_ = publisher.Close()
		return transport.Transport{}, err
	}

	return transport.Transport{Publisher: publisher, Subscriber: subscriber}, nil
}
