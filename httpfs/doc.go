// Package httpfs provides a read-only transport that reads from an HTTP
// server.
//
// HTTP offers no standard way to write or delete content, so Put and Delete
// always fail with an error of kind [filestore.KindUnsupported]. A FileStore
// skips such transports when writing.
//
// # Usage
//
// To use this transport, call [New] with a locator. All reads are relative to
// the locator's base path. Only the schemes "http" and "https" are supported.
//
// To scope the transport to a specific path, use that path on the locator.
// For example, to read only sub-paths of "https://example.com/foo/bar", you
// could use:
//
//	https://example.com/foo/bar/
//
// Query parameters on the locator are sent with every request.
//
// # Status codes
//
// Only 2xx responses succeed. A 404 is reported as [filestore.ErrNotFound],
// and any other status (including 401 and 403, and 3xx responses the client
// didn't follow) as [filestore.ErrTransport].
//
// # Adding custom HTTP headers
//
// This transport supports adding custom HTTP headers with the
// [filestore.WithHeaderTransport] extension. This can be useful for setting
// authentication headers, or for setting a user-agent.
//
//	t, _ := httpfs.New(loc)
//
//	t = filestore.WithHeaderTransport(http.Header{
//		"User-Agent": []string{"my-app"},
//	}, t)
//
// # Using your own HTTP client
//
// By default, this transport uses a client instrumented with OpenTelemetry
// (see otelhttp). The [filestore.WithHTTPClientTransport] extension allows you to use
// a different one.
package httpfs
