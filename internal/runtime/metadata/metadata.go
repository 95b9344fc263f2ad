package metadata

import (
	"net/http"
	"strings"
)

// Reserved keys carried on every invocation.
const (
	// KeyCorrelationID ties a response (or a stream reply) to its request.
	KeyCorrelationID = "correlation_id"
	// KeyTransport names the adapter that accepted the request.
	KeyTransport = "transport"
	// KeyReplyTo is the stream topic a reply envelope is published to.
	KeyReplyTo = "reply_to"
	// KeyContentType selects the stream payload codec.
	KeyContentType = "content_type"
	KeyTraceID     = "trace_id"
	KeySpanID      = "span_id"
)

// Metadata represents the headers carried alongside an invocation.
type Metadata map[string]string

func (m Metadata) cloneWithExtra(extra int) Metadata {
	size := len(m) + extra
	if size <= 0 {
		return Metadata{}
	}

	cloned := make(Metadata, size)
	for k, v := range m {
		cloned[k] = v
	}
	return cloned
}

// Clone returns a shallow copy of the metadata map.
func (m Metadata) Clone() Metadata {
	return m.cloneWithExtra(0)
}

// With returns a cloned metadata map containing the provided key/value pair.
func (m Metadata) With(key, value string) Metadata {
	cloned := m.cloneWithExtra(1)
	cloned[key] = value
	return cloned
}

// WithAll returns a cloned metadata map containing the supplied entries.
func (m Metadata) WithAll(entries Metadata) Metadata {
	cloned := m.cloneWithExtra(len(entries))
	for k, v := range entries {
		cloned[k] = v
	}
	return cloned
}

func (m Metadata) CorrelationID() string { return m[KeyCorrelationID] }

// New constructs a Metadata map from alternating key/value pairs.
func New(pairs ...string) Metadata {
	md := make(Metadata, len(pairs)/2)
	for i := 0; i < len(pairs)-1; i += 2 {
		md[pairs[i]] = pairs[i+1]
	}
	return md
}

// FromHeader flattens HTTP headers, keeping the first value of each key. Keys
// are lower-cased with dashes turned into underscores, so X-Correlation-Id
// lands on correlation_id.
func FromHeader(h http.Header) Metadata {
	md := make(Metadata, len(h))
	for key, values := range h {
		if len(values) == 0 {
			continue
		}
		name := strings.ToLower(strings.ReplaceAll(key, "-", "_"))
		name = strings.TrimPrefix(name, "x_")
		md[name] = values[0]
	}
	return md
}
