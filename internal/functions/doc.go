// Package functions holds the actions agents may request during a turn.
//
// A Registry maps function names to a JSON-schema described Spec and a
// Handler. Execute validates arguments against the compiled schema, checks
// that the calling agent is allowed to use the function and runs the handler
// bounded by a timeout. Every call, successful or not, produces a Result and
// a FunctionCalledEvent; Execute never returns an error.
package functions
