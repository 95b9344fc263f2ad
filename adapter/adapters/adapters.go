// Package adapters registers every built-in adapter, and every built-in
// broker under the stream adapter, with the default registries when
// imported.
package adapters

import (
	_ "github.com/drblury/polyflow/adapter/cli"
	_ "github.com/drblury/polyflow/adapter/httpapi"
	_ "github.com/drblury/polyflow/adapter/mcp"
	_ "github.com/drblury/polyflow/adapter/socket"
	_ "github.com/drblury/polyflow/adapter/stream"
	_ "github.com/drblury/polyflow/transport/transports"
)
