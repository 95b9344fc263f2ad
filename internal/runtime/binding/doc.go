// Package binding records which protocols a service method is exposed on and
// where each of its parameters comes from.
//
// A Registry holds three kinds of records per service type:
//
//   - a ClassBinding: transport name -> enablement and options
//   - MethodBindings: one per protocol Tag on a method (command, tool, rpc,
//     event, http.<VERB>, stream); a method may carry any number of them
//   - ParameterBindings: the source (body, query, header, args, ...) of each
//     positional parameter
//
// Records are written through the Record* methods or, more conveniently,
// through the builder returned by For:
//
//	binding.For(reg, "calculator").
//		Method("add").RPC("add").Command("add").Arg(0).Arg(1).
//		Method("echo").Command("echo", binding.WithSchema(echoSchema)).Body(0)
//
// Writes are merge-only: re-recording a Tag replaces that Tag alone and class
// bindings merge key by key. Readers receive snapshots that are never mutated
// after they are returned, so registration may continue after bootstrap.
package binding
