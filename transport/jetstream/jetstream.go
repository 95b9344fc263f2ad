// Package jetstream is the NATS JetStream broker. Unlike the core NATS
// broker, messages are persisted and a nacked message is redelivered.
package jetstream

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmnats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	nc "github.com/nats-io/nats.go"

	"github.com/drblury/polyflow/transport"
	natstransport "github.com/drblury/polyflow/transport/nats"
)

const TransportName = "jetstream"

var (
	// MaxDeliver caps redeliveries of a nacked message.
	MaxDeliver = 5
	// AckWait is how long the server waits before redelivering an
	// unacknowledged message.
	AckWait = 30 * time.Second
)

var PublisherFactory = func(cfg wmnats.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return wmnats.NewPublisher(cfg, logger)
}

var SubscriberFactory = func(cfg wmnats.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return wmnats.NewSubscriber(cfg, logger)
}

func init() {
	transport.Register(TransportName, Build, transport.JetStreamCapabilities)
}

// DurablePrefix turns a service name into a valid consumer name prefix.
func DurablePrefix(service string) string {
	if service == "" {
		return "polyflow"
	}
	return strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_").Replace(service)
}

// Build provisions streams on demand and subscribes with durable consumers
// named after the service, so a restarted replica resumes where it stopped.
func Build(_ context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	url := cfg.GetNATSURL()
	if url == "" {
		return transport.Transport{}, errors.New("jetstream: URL is required")
	}
	service := cfg.GetServiceName()
	marshaler := &wmnats.NATSMarshaler{}

	publisher, err := PublisherFactory(wmnats.PublisherConfig{
		URL:         url,
		NatsOptions: natstransport.ConnectOptions(service),
		Marshaler:   marshaler,
		JetStream: wmnats.JetStreamConfig{
			AutoProvision: true,
			TrackMsgId:    true,
		},
	}, logger)
	if err != nil {
		return transport.Transport{}, err
	}

	subscriber, err := SubscriberFactory(wmnats.SubscriberConfig{
		URL:              url,
		QueueGroupPrefix: service,
		AckWaitTimeout:   AckWait,
		NatsOptions:      natstransport.ConnectOptions(service),
		Unmarshaler:      marshaler,
		JetStream: wmnats.JetStreamConfig{
			AutoProvision: true,
			DurablePrefix: DurablePrefix(service),
			SubscribeOptions: []nc.SubOpt{
				nc.DeliverAll(),
				nc.AckExplicit(),
				nc.MaxDeliver(MaxDeliver),
				nc.AckWait(AckWait),
			},
		},
	}, logger)
	if err != nil {
		_ = publisher.Close()
		return transport.Transport{}, err
	}

	return transport.Transport{Publisher: publisher, Subscriber: subscriber}, nil
}
