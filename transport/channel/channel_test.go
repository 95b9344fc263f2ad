package channel

import (
	"context"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/polyflow/transport"
	"github.com/drblury/polyflow/transport/transporttest"
)

func TestRegisteredOnImport(t *testing.T) {
	assert.True(t, transport.DefaultRegistry.Has(TransportName))
	assert.Equal(t, transport.ChannelCapabilities, transport.GetCapabilities(TransportName))
}

func TestBuildDeliversMessages(t *testing.T) {
	tr, err := Build(context.Background(), &transporttest.Config{}, watermill.NopLogger{})
	require.NoError(t, err)
	defer tr.Close()

	msgs, err := tr.Subscriber.Subscribe(context.Background(), "greetings")
	require.NoError(t, err)
	require.NoError(t, tr.Publisher.Publish("greetings", message.NewMessage("1", []byte("hi"))))

	got := <-msgs
	assert.Equal(t, "hi", string(got.Payload))
	got.Ack()
}

func TestBuildUsesFactory(t *testing.T) {
	original := Factory
	defer func() { Factory = original }()

	pub := &transporttest.Publisher{}
	sub := &transporttest.Subscriber{}
	var seen gochannel.Config
	Factory = func(cfg gochannel.Config, _ watermill.LoggerAdapter) (message.Publisher, message.Subscriber) {
		seen = cfg
		return pub, sub
	}

	tr, err := Build(context.Background(), &transporttest.Config{}, watermill.NopLogger{})
	require.NoError(t, err)
	assert.Same(t, pub, tr.Publisher)
	assert.Same(t, sub, tr.Subscriber)
	assert.Equal(t, int64(64), seen.OutputChannelBuffer)
}
