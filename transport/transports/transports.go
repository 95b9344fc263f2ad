// Package transports registers every built-in broker with the default
// registry when imported.
package transports

import (
	_ "github.com/drblury/polyflow/transport/aws"
	_ "github.com/drblury/polyflow/transport/channel"
	_ "github.com/drblury/polyflow/transport/http"
	_ "github.com/drblury/polyflow/transport/jetstream"
	_ "github.com/drblury/polyflow/transport/kafka"
	_ "github.com/drblury/polyflow/transport/nats"
	_ "github.com/drblury/polyflow/transport/rabbitmq"
)
