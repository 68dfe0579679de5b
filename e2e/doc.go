// Package e2e drives a complete mcpmux stack (demo tools, production
// middleware, HTTP router) through its public endpoints.
package e2e
