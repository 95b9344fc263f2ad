package transport_test

import (
	"context"
	"errors"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/polyflow/transport"
	"github.com/drblury/polyflow/transport/transporttest"
)

func TestRegistryBuild(t *testing.T) {
	reg := transport.NewRegistry()
	pub := &transporttest.Publisher{}
	sub := &transporttest.Subscriber{}
	reg.Register("fake", func(context.Context, transport.Config, watermill.LoggerAdapter) (transport.Transport, error) {
		return transport.Transport{Publisher: pub, Subscriber: sub}, nil
	}, transport.Capabilities{SupportsAck: true})
	reg.Register("broken", func(context.Context, transport.Config, watermill.LoggerAdapter) (transport.Transport, error) {
		return transport.Transport{}, errors.New("dial refused")
	}, transport.Capabilities{})

	assert.Equal(t, []string{"broken", "fake"}, reg.Names())
	assert.True(t, reg.Has("fake"))
	assert.False(t, reg.Has("kafka"))
	assert.Equal(t, "fake", reg.Capabilities("fake").Name)
	assert.Equal(t, transport.Capabilities{Name: "kafka"}, reg.Capabilities("kafka"))

	tr, err := reg.Build(context.Background(), &transporttest.Config{PubSubSystem: "fake"}, nil)
	require.NoError(t, err)
	assert.Same(t, pub, tr.Publisher)

	_, err = reg.Build(context.Background(), &transporttest.Config{PubSubSystem: "broken"}, nil)
	assert.ErrorContains(t, err, "build broken: dial refused")

	_, err = reg.Build(context.Background(), &transporttest.Config{PubSubSystem: "kafka"}, nil)
	assert.ErrorContains(t, err, `unknown broker "kafka"`)

	_, err = reg.Build(context.Background(), nil, nil)
	assert.Error(t, err)
}

func TestTransportClose(t *testing.T) {
	pub := &transporttest.Publisher{}
	sub := &transporttest.Subscriber{}
	require.NoError(t, transport.Transport{Publisher: pub, Subscriber: sub}.Close())
	assert.True(t, pub.Closed)
	assert.True(t, sub.Closed)

	shared := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	assert.NoError(t, transport.Transport{Publisher: shared, Subscriber: shared}.Close())
	assert.NoError(t, transport.Transport{}.Close())
}

func TestCapabilities(t *testing.T) {
	assert.True(t, transport.ChannelCapabilities.Redelivers())
	assert.True(t, transport.RabbitMQCapabilities.Redelivers())
	assert.False(t, transport.KafkaCapabilities.Redelivers())
	assert.False(t, transport.NATSCapabilities.Redelivers())

	assert.True(t, transport.HTTPCapabilities.Fits(10<<20))
	assert.True(t, transport.AWSCapabilities.Fits(256<<10))
	assert.False(t, transport.AWSCapabilities.Fits(256<<10+1))
}
