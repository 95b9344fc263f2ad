package transport

// Capabilities describes delivery features of a broker that the stream
// adapter adjusts to.
type Capabilities struct {
	Name string

	// SupportsOrdering means messages on one topic arrive in publish order.
	SupportsOrdering bool
	// SupportsAck and SupportsNack tell whether a failed message can be
	// handed back for redelivery.
	SupportsAck  bool
	SupportsNack bool
	// SupportsTracing means metadata travels with the message, so
	// correlation ids and reply topics survive the hop.
	SupportsTracing bool

	// MaxMessageSize in bytes; 0 means unknown.
	MaxMessageSize int64
}

// Redelivers reports whether a nacked message comes back.
func (c Capabilities) Redelivers() bool {
	return c.SupportsAck && c.SupportsNack
}

// Fits reports whether a payload of size bytes may be published.
func (c Capabilities) Fits(size int) bool {
	return c.MaxMessageSize <= 0 || int64(size) <= c.MaxMessageSize
}

var (
	ChannelCapabilities = Capabilities{
		Name:             "channel",
		SupportsOrdering: true,
		SupportsAck:      true,
		SupportsNack:     true,
		SupportsTracing:  true,
	}

	KafkaCapabilities = Capabilities{
		Name:             "kafka",
		SupportsOrdering: true,
		SupportsAck:      true,
		SupportsTracing:  true,
		MaxMessageSize:   1 << 20,
	}

	RabbitMQCapabilities = Capabilities{
		Name:             "rabbitmq",
		SupportsOrdering: true,
		SupportsAck:      true,
		SupportsNack:     true,
		SupportsTracing:  true,
	}

	NATSCapabilities = Capabilities{
		Name:            "nats",
		SupportsTracing: true,
		MaxMessageSize:  1 << 20,
	}

	JetStreamCapabilities = Capabilities{
		Name:             "jetstream",
		SupportsOrdering: true,
		SupportsAck:      true,
		SupportsNack:     true,
		SupportsTracing:  true,
		MaxMessageSize:   1 << 20,
	}

	AWSCapabilities = Capabilities{
		Name:             "aws",
		SupportsOrdering: true,
		SupportsAck:      true,
		SupportsNack:     true,
		SupportsTracing:  true,
		MaxMessageSize:   256 << 10,
	}

	HTTPCapabilities = Capabilities{
		Name:            "http",
		SupportsTracing: true,
	}
)
