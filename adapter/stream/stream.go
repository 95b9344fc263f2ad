// Package stream consumes stream bindings from a pub/sub broker.
//
// Every stream route subscribes to the topic named by its target. A message
// payload (JSON, or a protobuf google.protobuf.Struct when content_type says
// so) becomes the request body; message metadata becomes headers. When the
// message names a reply_to topic, or the binding or config supplies a default
// one, the outcome is published there as an Envelope carrying the request's
// correlation id.
package stream

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/components/metrics"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/drblury/polyflow/adapter"
	"github.com/drblury/polyflow/internal/runtime/binding"
	"github.com/drblury/polyflow/internal/runtime/dispatch"
	errspkg "github.com/drblury/polyflow/internal/runtime/errors"
	idspkg "github.com/drblury/polyflow/internal/runtime/ids"
	loggingpkg "github.com/drblury/polyflow/internal/runtime/logging"
	metadatapkg "github.com/drblury/polyflow/internal/runtime/metadata"
	"github.com/drblury/polyflow/transport"
)

const (
	Name = "stream"

	// OptionReplyTopic on a stream binding overrides Config.StreamReplyTopic.
	OptionReplyTopic = "reply_topic"

	// ValueMessage holds the consumed *message.Message in the dispatch context.
	ValueMessage = "stream.message"

	metricsNamespace    = "polyflow"
	defaultCloseTimeout = 30 * time.Second
	maxRetryInterval    = 5 * time.Second
)

var supportedSources = binding.Sources(
	binding.SourceBody,
	binding.SourceArgs,
	binding.SourceHeader,
	binding.SourceContext,
	binding.SourceRequest,
)

func init() {
	adapter.Register(Name, func() adapter.Adapter { return New(Options{}) })
}

// Options customise the adapter. Zero values use the default broker
// registry and the default Prometheus registerer.
type Options struct {
	Transports   *transport.Registry
	Registerer   prometheus.Registerer
	CloseTimeout time.Duration
}

// Adapter runs a Watermill router with one consumer handler per stream
// route.
type Adapter struct {
	opts Options

	dispatcher  *dispatch.Dispatcher
	log         loggingpkg.ServiceLogger
	replyTopic  string
	poisonTopic string
	redeliver   bool

	mu        sync.Mutex
	transport transport.Transport
	caps      transport.Capabilities
	router    *message.Router
	handlers  int
	closed    bool
}

func New(opts Options) *Adapter {
	if opts.Transports == nil {
		opts.Transports = transport.DefaultRegistry
	}
	if opts.Registerer == nil {
		opts.Registerer = prometheus.DefaultRegisterer
	}
	if opts.CloseTimeout <= 0 {
		opts.CloseTimeout = defaultCloseTimeout
	}
	return &Adapter{opts: opts}
}

func (a *Adapter) Name() string { return Name }

// Initialize builds the broker and registers the handlers. Metrics are added
// when Config.MetricsEnabled is set.
func (a *Adapter) Initialize(ctx context.Context, env adapter.Env) error {
	if env.Dispatcher == nil {
		return errspkg.ErrDispatcherRequired
	}
	conf := env.Conf()
	a.dispatcher = env.Dispatcher
	a.log = env.Log(Name)
	a.replyTopic = env.String("reply_topic", conf.StreamReplyTopic)

	if conf.PubSubSystem == "" {
		withDefault := *conf
		withDefault.PubSubSystem = "channel"
		conf = &withDefault
	}
	wmLogger := loggingpkg.NewWatermillAdapter(a.log)
	t, err := a.opts.Transports.Build(ctx, conf, wmLogger)
	if err != nil {
		return err
	}

	router, err := message.NewRouter(message.RouterConfig{CloseTimeout: a.opts.CloseTimeout}, wmLogger)
	if err != nil {
		_ = t.Close()
		return fmt.Errorf("stream: create router: %w", err)
	}
	if env.Bool("metrics", conf.MetricsEnabled) {
		metrics.NewPrometheusMetricsBuilder(a.opts.Registerer, metricsNamespace, conf.PubSubSystem).
			AddPrometheusRouterMetrics(router)
	}
	a.poisonTopic = env.String("poison_topic", conf.StreamPoisonTopic)
	a.redeliver = env.Bool("redeliver", conf.StreamRedeliver)
	router.AddMiddleware(middleware.CorrelationID)
	if a.poisonTopic != "" {
		poison, err := middleware.PoisonQueue(t.Publisher, a.poisonTopic)
		if err != nil {
			_ = t.Close()
			return fmt.Errorf("stream: poison queue: %w", err)
		}
		router.AddMiddleware(poison)
	}
	router.AddMiddleware(a.settle)
	if conf.StreamMaxRetries > 0 {
		router.AddMiddleware(middleware.Retry{
			MaxRetries:      conf.StreamMaxRetries,
			InitialInterval: conf.StreamRetryInterval,
			MaxInterval:     maxRetryInterval,
			Multiplier:      2,
			Logger:          wmLogger,
			ShouldRetry: func(params middleware.RetryParams) bool {
				var failure *handlerFailure
				return errors.As(params.Err, &failure)
			},
		}.Middleware)
	}
	router.AddMiddleware(middleware.Recoverer)

	routes := a.dispatcher.Routes(binding.TagStream)
	for _, route := range routes {
		router.AddConsumerHandler(
			fmt.Sprintf("%s.%s", route.Entry.Name, route.Target),
			route.Target,
			t.Subscriber,
			a.consume(route),
		)
	}

	a.mu.Lock()
	a.transport = t
	a.caps = a.opts.Transports.Capabilities(conf.PubSubSystem)
	a.router = router
	a.handlers = len(routes)
	a.mu.Unlock()

	a.log.Info("Stream adapter initialized", loggingpkg.LogFields{
		"broker":   conf.PubSubSystem,
		"handlers": len(routes),
	})
	return nil
}

// Listen runs the router until ctx is cancelled. Without stream routes it
// only waits for cancellation.
func (a *Adapter) Listen(ctx context.Context) error {
	a.mu.Lock()
	router, handlers := a.router, a.handlers
	a.mu.Unlock()
	if router == nil {
		return errspkg.ErrAdapterNotReady
	}
	if handlers == 0 {
		<-ctx.Done()
		return nil
	}
	err := router.Run(ctx)
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}

// Running is closed once every handler subscribed to its topic.
func (a *Adapter) Running() chan struct{} {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.router == nil {
		ch := make(chan struct{})
		return ch
	}
	return a.router.Running()
}

func (a *Adapter) Close(context.Context) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	router, t := a.router, a.transport
	a.mu.Unlock()

	var errs []error
	if router != nil {
		errs = append(errs, router.Close())
	}
	errs = append(errs, t.Close())
	return errors.Join(errs...)
}

// Publisher exposes the broker publisher so producers share the adapter's
// connection.
func (a *Adapter) Publisher() message.Publisher {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.transport.Publisher
}

// Publish encodes payload with the codec selected by md's content_type and
// publishes it to topic. A correlation id is generated when md has none.
func (a *Adapter) Publish(ctx context.Context, topic string, payload any, md metadatapkg.Metadata) error {
	if topic == "" {
		return errspkg.ErrTopicRequired
	}
	pub := a.Publisher()
	if pub == nil {
		return errspkg.ErrAdapterNotReady
	}
	body, err := encodePayload(md[metadatapkg.KeyContentType], payload)
	if err != nil {
		return err
	}
	return a.publishRaw(ctx, pub, topic, body, md)
}

func (a *Adapter) publishRaw(ctx context.Context, pub message.Publisher, topic string, body []byte, md metadatapkg.Metadata) error {
	caps := a.capabilities()
	if !caps.Fits(len(body)) {
		return fmt.Errorf("stream: payload of %d bytes exceeds %s limit of %d", len(body), caps.Name, caps.MaxMessageSize)
	}
	msg := message.NewMessage(idspkg.CreateULID(), body)
	msg.Metadata = metadatapkg.ToWatermill(md)
	if msg.Metadata.Get(metadatapkg.KeyCorrelationID) == "" {
		middleware.SetCorrelationID(idspkg.CreateULID(), msg)
	}
	msg.SetContext(ctx)
	return pub.Publish(topic, msg)
}

// consume answers decode, validation and routing failures itself. Handler
// failures are returned so the retry middleware sees them; settle handles
// whatever is left after the last attempt.
func (a *Adapter) consume(route dispatch.Route) message.NoPublishHandlerFunc {
	return func(msg *message.Message) error {
		md := metadatapkg.FromWatermill(msg.Metadata).With(metadatapkg.KeyTransport, Name)

		body, err := decodePayload(md[metadatapkg.KeyContentType], msg.Payload)
		if err != nil {
			a.log.Error("Dropping undecodable message", err, loggingpkg.LogFields{
				"topic":        route.Target,
				"message_uuid": msg.UUID,
			})
			a.reply(msg, route, md, nil, err)
			return nil
		}

		held := &dispatch.HeldReport{}
		result, err := a.dispatcher.Invoke(msg.Context(), route, dispatch.Request{
			Tag:       route.Tag,
			Target:    route.Target,
			Transport: Name,
			View:      a.view(msg, md, body),
			Metadata:  md,
			Values:    map[string]any{ValueMessage: msg},
			Held:      held,
		})
		if err != nil && !errspkg.IsValidation(err) && !errspkg.IsNotFound(err) {
			return &handlerFailure{route: route, err: err, report: held}
		}
		a.reply(msg, route, md, result, err)
		return nil
	}
}

type handlerFailure struct {
	route  dispatch.Route
	err    error
	report *dispatch.HeldReport
}

func (f *handlerFailure) Error() string { return f.err.Error() }
func (f *handlerFailure) Unwrap() error { return f.err }

// settle decides the fate of a message whose handler failed on every
// attempt: nack it for broker redelivery when enabled and supported,
// otherwise reply with the failure and hand it to the poison queue, or ack
// it.
func (a *Adapter) settle(h message.HandlerFunc) message.HandlerFunc {
	return func(msg *message.Message) ([]*message.Message, error) {
		produced, err := h(msg)
		if err == nil {
			return produced, nil
		}
		var failure *handlerFailure
		if errors.As(err, &failure) {
			failure.report.Fire()
		}
		log := a.log.With(loggingpkg.LogFields{
			"message_uuid":   msg.UUID,
			"correlation_id": middleware.MessageCorrelationID(msg),
		})
		if a.redeliver && a.poisonTopic == "" && a.capabilities().Redelivers() {
			log.Debug("Handler failed, message will be redelivered", loggingpkg.LogFields{"error": err.Error()})
			return nil, err
		}

		if failure != nil {
			md := metadatapkg.FromWatermill(msg.Metadata)
			a.reply(msg, failure.route, md, nil, failure.err)
		}
		if a.poisonTopic != "" {
			log.Info("Handler failed, moving message to poison queue", loggingpkg.LogFields{
				"poison_topic": a.poisonTopic,
				"error":        err.Error(),
			})
			return nil, err
		}
		log.Error("Handler failed, message dropped", err, nil)
		return nil, nil
	}
}

func (a *Adapter) capabilities() transport.Capabilities {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.caps
}

func (a *Adapter) view(msg *message.Message, md metadatapkg.Metadata, body any) dispatch.RequestView {
	headers := make(http.Header, len(md))
	for k, v := range md {
		headers.Set(k, v)
	}
	var args []any
	if body != nil {
		args = []any{body}
	}
	return dispatch.RequestView{
		Body:      body,
		Args:      args,
		Headers:   headers,
		Request:   msg,
		Context:   msg.Context(),
		Supported: supportedSources,
	}
}

func (a *Adapter) replyTopicFor(route dispatch.Route, md metadatapkg.Metadata) string {
	if topic := md[metadatapkg.KeyReplyTo]; topic != "" {
		return topic
	}
	if v, ok := route.Binding.Option(OptionReplyTopic); ok {
		if topic, isString := v.(string); isString && topic != "" {
			return topic
		}
	}
	return a.replyTopic
}

func (a *Adapter) reply(msg *message.Message, route dispatch.Route, md metadatapkg.Metadata, result any, err error) {
	topic := a.replyTopicFor(route, md)
	if topic == "" {
		return
	}
	env := Envelope{
		RequestID:     msg.UUID,
		CorrelationID: md.CorrelationID(),
		Topic:         route.Target,
		Result:        result,
	}
	if err != nil {
		failure := adapter.NewFailure(err)
		env.Error, env.Fields = failure.Error, failure.Fields
	}

	contentType := md[metadatapkg.KeyContentType]
	body, encErr := encodePayload(contentType, env)
	if encErr != nil {
		a.log.Error("Failed to encode reply", encErr, loggingpkg.LogFields{"reply_to": topic})
		return
	}
	replyMD := metadatapkg.New(metadatapkg.KeyCorrelationID, md.CorrelationID())
	if contentType != "" {
		replyMD[metadatapkg.KeyContentType] = contentType
	}
	if pubErr := a.publishRaw(msg.Context(), a.Publisher(), topic, body, replyMD); pubErr != nil {
		a.log.Error("Failed to publish reply", pubErr, loggingpkg.LogFields{"reply_to": topic})
	}
}
