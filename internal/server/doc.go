// Package server exposes the ephemeral session engine over HTTP. It owns
// configuration, the middleware chain (request ids, logging, security
// headers, rate limits, compression), the upload, ownership, info,
// download and page handlers, and the optional mirror, audit log and
// webhooks that hang off session lifecycle events.
package server
