// Package transport provides the pub/sub brokers behind the stream adapter.
//
// A broker is a Watermill publisher and subscriber pair. Broker packages
// (channel, kafka, rabbitmq, nats, jetstream, http, aws) register a Builder
// under their name; the stream adapter builds the one selected by
// Config.PubSubSystem.
package transport

import (
	"context"
	"errors"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

// Transport combines the publisher and subscriber of one broker.
type Transport struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber
}

// Close closes the subscriber and the publisher. A value serving as both is
// closed once.
func (t Transport) Close() error {
	var errs []error
	if t.Subscriber != nil {
		errs = append(errs, t.Subscriber.Close())
	}
	if t.Publisher != nil && !samePubSub(t.Publisher, t.Subscriber) {
		errs = append(errs, t.Publisher.Close())
	}
	return errors.Join(errs...)
}

func samePubSub(pub message.Publisher, sub message.Subscriber) bool {
	if sub == nil {
		return false
	}
	s, ok := sub.(message.Publisher)
	return ok && s == pub
}

// Builder creates a broker from config.
type Builder func(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error)

// Config is the subset of service configuration brokers read.
type Config interface {
	GetServiceName() string
	GetPubSubSystem() string

	GetKafkaBrokers() []string
	GetKafkaConsumerGroup() string

	GetRabbitMQURL() string

	GetNATSURL() string

	GetHTTPServerAddress() string
	GetHTTPPublisherURL() string

	GetAWSRegion() string
	GetAWSAccountID() string
	GetAWSAccessKeyID() string
	GetAWSSecretAccessKey() string
	GetAWSEndpoint() string
}
