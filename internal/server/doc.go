// Package server owns the listener pool: one Fiber application per listener kind
// (HTTP, HTTPS or the dedicated HEALTH listener), each with the same middleware
// chain (trust gate, request id, request logging/metrics) and the same error
// handler. The pool binds every listener independently so one failed bind never
// prevents its siblings from serving, and tears each listener down exactly once.
// Route registration does not live here; the gateway package resolves the
// selected listener and registers against its Fiber app.
package server
