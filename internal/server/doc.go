// Package server hosts the Fiber HTTP service and its middleware chain:
// panic recovery, request IDs, access logging and JSON error rendering.
// Route groups live in the routes subpackage and are attached by main after
// NewApp returns, so keep exports narrow and accept explicit dependencies.
package server
