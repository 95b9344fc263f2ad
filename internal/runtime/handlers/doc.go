// Package handlers compiles service descriptions into dispatch entries.
//
// A service lists its methods in a ServiceDesc, usually through the typed
// constructors:
//
//	desc := handlers.ServiceDesc{
//		Name: "calculator",
//		Methods: []handlers.MethodDesc{
//			handlers.Method2("add", func(_ *dispatch.Context, a, b int) (int, error) { return a + b, nil }),
//		},
//	}
//
// Compile pairs each method with the bindings recorded for it and returns
// the entries a dispatcher routes to.
package handlers
