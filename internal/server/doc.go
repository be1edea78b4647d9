// Package server hosts the Fiber HTTP service, the request-id middleware, and
// the AppRoute derived from [App] configuration. It also owns the shared
// upstream http.Client and its retrying wrapper so that fetch and proxy code
// reuse one transport. Keep exports narrow and accept explicit dependencies.
package server
