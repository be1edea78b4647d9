// Package resource models the requests and responses that flow through the
// offline cache. A Request carries the browser-style fetch attributes (mode,
// cache directive, navigation intent) that the router and strategies key off;
// a Response always holds its body in memory so it can be stored, cloned and
// replayed any number of times.
package resource
