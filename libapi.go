package polyflow

import (
	"github.com/drblury/polyflow/adapter"
	runtimepkg "github.com/drblury/polyflow/internal/runtime"
	"github.com/drblury/polyflow/internal/runtime/binding"
	configpkg "github.com/drblury/polyflow/internal/runtime/config"
	"github.com/drblury/polyflow/internal/runtime/dispatch"
	errspkg "github.com/drblury/polyflow/internal/runtime/errors"
	handlerpkg "github.com/drblury/polyflow/internal/runtime/handlers"
	idspkg "github.com/drblury/polyflow/internal/runtime/ids"
	jsoncodec "github.com/drblury/polyflow/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/polyflow/internal/runtime/logging"
	metadatapkg "github.com/drblury/polyflow/internal/runtime/metadata"
	schemapkg "github.com/drblury/polyflow/internal/runtime/schema"
	"github.com/drblury/polyflow/transport"
)

type (
	Config              = configpkg.Config
	Service             = runtimepkg.Service
	ServiceDependencies = runtimepkg.ServiceDependencies

	// Service description
	ServiceDesc = handlerpkg.ServiceDesc
	MethodDesc  = handlerpkg.MethodDesc
	Describer   = handlerpkg.Describer
	HandlerFunc = dispatch.HandlerFunc
	Context     = dispatch.Context
	Middleware  = dispatch.Middleware
	Request     = dispatch.Request
	RequestView = dispatch.RequestView

	// Bindings
	Registry         = binding.Registry
	Tag              = binding.Tag
	Source           = binding.Source
	MethodBinding    = binding.MethodBinding
	ParameterBinding = binding.ParameterBinding
	ClassBinding     = binding.ClassBinding
	BindingOption    = binding.Option
	ServiceBuilder   = binding.ServiceBuilder
	MethodBuilder    = binding.MethodBuilder

	// Schemas
	Validator    = schemapkg.Validator
	SchemaOption = schemapkg.Option
	SchemaField  = schemapkg.Field

	// Adapters
	Adapter         = adapter.Adapter
	AdapterEnv      = adapter.Env
	AdapterBuilder  = adapter.Builder
	AdapterRegistry = adapter.Registry
	Failure         = adapter.Failure

	// Brokers under the stream adapter
	TransportBuilder      = transport.Builder
	TransportConfig       = transport.Config
	TransportRegistry     = transport.Registry
	TransportCapabilities = transport.Capabilities

	MiddlewareBuilder      = runtimepkg.MiddlewareBuilder
	MiddlewareRegistration = runtimepkg.MiddlewareRegistration

	LifecycleHooks = runtimepkg.LifecycleHooks
	LifecycleEvent = runtimepkg.LifecycleEvent
	ErrorEvent     = runtimepkg.ErrorEvent

	Metadata = metadatapkg.Metadata

	LogFields                 = loggingpkg.LogFields
	ServiceLogger             = loggingpkg.ServiceLogger
	EntryLogger               = loggingpkg.EntryLogger
	EntryLoggerAdapter[T any] = loggingpkg.EntryLoggerAdapter[T]

	HandlerInfo   = runtimepkg.HandlerInfo
	BindingInfo   = runtimepkg.BindingInfo
	HandlerStats  = runtimepkg.HandlerStats
	StatsSnapshot = runtimepkg.StatsSnapshot
	ResourceUsage = runtimepkg.ResourceUsage

	// Error classification
	ErrorClassifier = runtimepkg.ErrorClassifier
	ErrorCategory   = runtimepkg.ErrorCategory

	// Error taxonomy
	ValidationError       = errspkg.ValidationError
	HandlerNotFoundError  = errspkg.HandlerNotFoundError
	HandlerExecutionError = errspkg.HandlerExecutionError
	TransportStartupError = errspkg.TransportStartupError
	RegistrationError     = errspkg.RegistrationError
	ConfigValidationError = errspkg.ConfigValidationError
)

var (
	NewService     = runtimepkg.NewService
	TryNewService  = runtimepkg.TryNewService
	ValidateConfig = configpkg.ValidateConfig
	ConfigFromEnv  = configpkg.FromEnv

	NewRegistry = binding.NewRegistry
	For         = binding.For
	HTTPTag     = binding.HTTPTag
	Sources     = binding.Sources
	AllSources  = binding.AllSources

	WithSchema      = binding.WithSchema
	WithDescription = binding.WithDescription
	WithMiddleware  = binding.WithMiddleware
	WithOption      = binding.WithOption
	Disabled        = binding.Disabled

	Func = handlerpkg.Func

	NewSchema       = schemapkg.New
	MustNewSchema   = schemapkg.MustNew
	SchemaFields    = schemapkg.Fields
	ObjectSchema    = schemapkg.Object
	StringSchema    = schemapkg.String
	IntegerSchema   = schemapkg.Integer
	NumberSchema    = schemapkg.Number
	BooleanSchema   = schemapkg.Boolean
	NonEmptyString  = schemapkg.NonEmptyString
	WithoutTrim     = schemapkg.WithoutTrim
	WithoutCoercion = schemapkg.WithoutCoercion

	RegisterAdapter = adapter.Register
	BuildAdapter    = adapter.Build
	NewFailure      = adapter.NewFailure

	DefaultTransportRegistry = transport.DefaultRegistry
	RegisterTransport        = transport.Register
	BuildTransport           = transport.Build
	GetCapabilities          = transport.GetCapabilities

	DefaultMiddlewares       = runtimepkg.DefaultMiddlewares
	CorrelationIDMiddleware  = runtimepkg.CorrelationIDMiddleware
	LogInvocationsMiddleware = runtimepkg.LogInvocationsMiddleware
	TracerMiddleware         = runtimepkg.TracerMiddleware
	MetricsMiddleware        = runtimepkg.MetricsMiddleware
	StatsMiddleware          = runtimepkg.StatsMiddleware
	TimeoutMiddleware        = runtimepkg.TimeoutMiddleware
	RequireMetadata          = runtimepkg.RequireMetadata

	LoggingHooks  = runtimepkg.LoggingHooks
	AlertingHooks = runtimepkg.AlertingHooks

	DefaultErrorClassifier = runtimepkg.DefaultErrorClassifier

	Marshal       = jsoncodec.Marshal
	MarshalIndent = jsoncodec.MarshalIndent
	Unmarshal     = jsoncodec.Unmarshal
	Encode        = jsoncodec.Encode
	Decode        = jsoncodec.Decode

	IsValidation       = errspkg.IsValidation
	IsNotFound         = errspkg.IsNotFound
	ErrorMessage       = errspkg.Message
	NewValidationError = errspkg.NewValidationError

	ErrServiceRequired     = errspkg.ErrServiceRequired
	ErrServiceNameRequired = errspkg.ErrServiceNameRequired
	ErrRegistryRequired    = errspkg.ErrRegistryRequired
	ErrHandlerRequired     = errspkg.ErrHandlerRequired
	ErrMethodNameRequired  = errspkg.ErrMethodNameRequired
	ErrDispatcherRequired  = errspkg.ErrDispatcherRequired
	ErrAdapterNotReady     = errspkg.ErrAdapterNotReady
	ErrTopicRequired       = errspkg.ErrTopicRequired
	ErrConfigRequired      = errspkg.ErrConfigRequired
	ErrLoggerRequired      = errspkg.ErrLoggerRequired

	NewSlogServiceLogger      = loggingpkg.NewSlogServiceLogger
	NewZapServiceLogger       = loggingpkg.NewZapServiceLogger
	NewWatermillServiceLogger = loggingpkg.NewWatermillServiceLogger
	NewNopServiceLogger       = loggingpkg.NewNopServiceLogger

	NewMetadata = metadatapkg.New

	CreateULID = idspkg.CreateULID
)

// Protocol tags.
const (
	TagCommand = binding.TagCommand
	TagTool    = binding.TagTool
	TagRPC     = binding.TagRPC
	TagEvent   = binding.TagEvent
	TagStream  = binding.TagStream
)

// Parameter sources.
const (
	SourceBody     = binding.SourceBody
	SourcePath     = binding.SourcePath
	SourceQuery    = binding.SourceQuery
	SourceHeader   = binding.SourceHeader
	SourceCookie   = binding.SourceCookie
	SourceSession  = binding.SourceSession
	SourceFile     = binding.SourceFile
	SourceContext  = binding.SourceContext
	SourceRequest  = binding.SourceRequest
	SourceResponse = binding.SourceResponse
	SourceArgs     = binding.SourceArgs
)

// Metadata keys - use these constants for standard metadata fields.
const (
	MetadataKeyCorrelationID = metadatapkg.KeyCorrelationID
	MetadataKeyTransport     = metadatapkg.KeyTransport
	MetadataKeyReplyTo       = metadatapkg.KeyReplyTo
	MetadataKeyContentType   = metadatapkg.KeyContentType
	MetadataKeyTraceID       = metadatapkg.KeyTraceID
	MetadataKeySpanID        = metadatapkg.KeySpanID
)

const (
	ErrorCategoryNone       = runtimepkg.ErrorCategoryNone
	ErrorCategoryValidation = runtimepkg.ErrorCategoryValidation
	ErrorCategoryNotFound   = runtimepkg.ErrorCategoryNotFound
	ErrorCategoryDownstream = runtimepkg.ErrorCategoryDownstream
	ErrorCategoryPanic      = runtimepkg.ErrorCategoryPanic
	ErrorCategoryOther      = runtimepkg.ErrorCategoryOther
)

const (
	MCPModeStdio = configpkg.MCPModeStdio
	MCPModeHTTP  = configpkg.MCPModeHTTP
)

// Method0 describes a method without parameters.
func Method0[R any](name string, fn func(*Context) (R, error)) MethodDesc {
	return handlerpkg.Method0(name, fn)
}

// Method1 describes a one parameter method. Bound values are converted to A.
func Method1[A, R any](name string, fn func(*Context, A) (R, error)) MethodDesc {
	return handlerpkg.Method1(name, fn)
}

func Method2[A, B, R any](name string, fn func(*Context, A, B) (R, error)) MethodDesc {
	return handlerpkg.Method2(name, fn)
}

func Method3[A, B, C, R any](name string, fn func(*Context, A, B, C) (R, error)) MethodDesc {
	return handlerpkg.Method3(name, fn)
}

// Arg converts one bound argument inside a Func handler.
func Arg[T any](index int, v any) (T, error) {
	return handlerpkg.Arg[T](index, v)
}

// SchemaFor derives a validator from the JSON shape of T.
func SchemaFor[T any](opts ...SchemaOption) (Validator, error) {
	return schemapkg.For[T](opts...)
}

// MustSchemaFor is SchemaFor that panics on error.
func MustSchemaFor[T any](opts ...SchemaOption) Validator {
	return schemapkg.MustFor[T](opts...)
}

// NewEntryServiceLogger adapts an entry-style logger such as logrus.Entry.
func NewEntryServiceLogger[T EntryLoggerAdapter[T]](entry T) ServiceLogger {
	return loggingpkg.NewEntryServiceLogger(entry)
}
