// Package http is a broker that publishes messages as HTTP POST requests and
// receives them on an embedded server.
package http

import (
	"context"
	"errors"
	nethttp "net/http"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	wmhttp "github.com/ThreeDotsLabs/watermill-http/v2/pkg/http"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/polyflow/transport"
)

const TransportName = "http"

// DefaultServerAddress is used when no subscriber address is configured.
const DefaultServerAddress = ":8082"

var PublisherFactory = func(cfg wmhttp.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return wmhttp.NewPublisher(cfg, logger)
}

var SubscriberFactory = func(addr string, cfg wmhttp.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return wmhttp.NewSubscriber(addr, cfg, logger)
}

type serverStarter interface {
	StartHTTPServer() error
}

func init() {
	transport.Register(TransportName, Build, transport.HTTPCapabilities)
}

// TopicURL joins the publisher base URL and a topic.
func TopicURL(base, topic string) string {
	return strings.TrimSuffix(base, "/") + "/" + strings.TrimPrefix(topic, "/")
}

// Build starts the subscriber server in the background. Publishing needs a
// base URL; topics are appended as the last path segment.
func Build(_ context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	base := cfg.GetHTTPPublisherURL()
	if base == "" {
		return transport.Transport{}, errors.New("http: publisher URL is required")
	}
	addr := cfg.GetHTTPServerAddress()
	if addr == "" {
		addr = DefaultServerAddress
	}

	publisher, err := PublisherFactory(wmhttp.PublisherConfig{
		MarshalMessageFunc: func(topic string, msg *message.Message) (*nethttp.Request, error) {
			return wmhttp.DefaultMarshalMessageFunc(TopicURL(base, topic), msg)
		},
	}, logger)
	if err != nil {
		return transport.Transport{}, err
	}

	subscriber, err := SubscriberFactory(addr, wmhttp.SubscriberConfig{
		UnmarshalMessageFunc: wmhttp.DefaultUnmarshalMessageFunc,
	}, logger)
	if err != nil {
		_ = publisher.Close()
		return transport.Transport{}, err
	}

	if s, ok := subscriber.(serverStarter); ok {
		go func() {
			if err := s.StartHTTPServer(); err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
				logger.Error("HTTP broker server stopped", err, watermill.LogFields{"addr": addr})
			}
		}()
	}

	return transport.Transport{Publisher: publisher, Subscriber: subscriber}, nil
}
