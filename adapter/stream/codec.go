package stream

import (
	"fmt"
	"strings"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/drblury/polyflow/internal/runtime/jsoncodec"
)

// Payload content types, read from the content_type metadata key.
const (
	ContentTypeJSON     = "application/json"
	ContentTypeProtobuf = "application/protobuf"
)

// Envelope is published to the reply topic after a request was handled.
type Envelope struct {
	RequestID     string              `json:"request_id"`
	CorrelationID string              `json:"correlation_id,omitempty"`
	Topic         string              `json:"topic"`
	Result        any                 `json:"result"`
	Error         string              `json:"error,omitempty"`
	Fields        map[string][]string `json:"fields,omitempty"`
}

func isProtobuf(contentType string) bool {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	return ct == ContentTypeProtobuf || ct == "application/x-protobuf"
}

// decodePayload turns a message payload into the generic value bound as the
// request body. Protobuf payloads must be a google.protobuf.Struct.
func decodePayload(contentType string, payload []byte) (any, error) {
	if len(payload) == 0 {
		return nil, nil
	}
	if isProtobuf(contentType) {
		var s structpb.Struct
		if err := proto.Unmarshal(payload, &s); err != nil {
			return nil, fmt.Errorf("invalid protobuf payload: %w", err)
		}
		return s.AsMap(), nil
	}
	var body any
	if err := jsoncodec.Unmarshal(payload, &body); err != nil {
		return nil, fmt.Errorf("invalid JSON payload: %w", err)
	}
	return body, nil
}

// encodePayload is the inverse of decodePayload. Values headed for a
// protobuf payload are first normalised through JSON so structpb accepts
// them.
func encodePayload(contentType string, v any) ([]byte, error) {
	if !isProtobuf(contentType) {
		return jsoncodec.Marshal(v)
	}
	var generic map[string]any
	if err := jsoncodec.Convert(v, &generic); err != nil {
		return nil, fmt.Errorf("encode protobuf payload: %w", err)
	}
	s, err := structpb.NewStruct(generic)
	if err != nil {
		return nil, fmt.Errorf("encode protobuf payload: %w", err)
	}
	return proto.Marshal(s)
}
