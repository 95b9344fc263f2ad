// Package channel is the in-process broker. It needs no infrastructure and
// is the default under the stream adapter.
package channel

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/drblury/polyflow/transport"
)

const TransportName = "channel"

// Factory creates the shared pub/sub; tests swap it.
var Factory = func(cfg gochannel.Config, logger watermill.LoggerAdapter) (message.Publisher, message.Subscriber) {
	pubSub := gochannel.NewGoChannel(cfg, logger)
	return pubSub, pubSub
}

func init() {
	transport.Register(TransportName, Build, transport.ChannelCapabilities)
}

// Build returns a buffered GoChannel. Messages published before anyone
// subscribes to a topic are dropped.
func Build(_ context.Context, _ transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	pub, sub := Factory(gochannel.Config{OutputChannelBuffer: 64}, logger)
	return transport.Transport{Publisher: pub, Subscriber: sub}, nil
}
