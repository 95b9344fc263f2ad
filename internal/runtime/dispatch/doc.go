// Package dispatch turns an inbound transport message into a handler call.
//
// Adapters describe a message as a RequestView and hand it to a Dispatcher
// together with the protocol tag and target. The dispatcher finds the
// compiled Entry, binds positional arguments, validates the body against the
// binding's schema and then runs global middleware, binding middleware and
// finally the handler:
//
//	result, err := d.Dispatch(ctx, dispatch.Request{
//		Tag:       binding.TagRPC,
//		Target:    "add",
//		Transport: "socket",
//		View:      dispatch.RequestView{Args: []any{2, 3}, Supported: binding.Sources(binding.SourceArgs)},
//	})
//
// Middleware is an ordered slice walked by Context.Next, so the handler runs
// after every "pre" step and each "post" step runs in reverse order.
package dispatch
