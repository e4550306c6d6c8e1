// Package server hosts the Fiber HTTP service and the middleware chain that
// stamps request IDs and renders unhandled errors as JSON. Everything outside
// /-/ is handed to the injected ProxyHandler together with the OriginRoute;
// /-/ is left for the diagnostics routes registered by the routes subpackage.
package server
