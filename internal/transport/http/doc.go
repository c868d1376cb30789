// Package http implements the HTTP handlers of the conversion service.
// Handlers stay thin: they parse and validate requests, call the service
// layer, and render JSON responses. Errors cross the boundary as RFC 7807
// problem documents.
//
// A typical request flows through these layers:
//
//	HTTP Request → Chi Router → Middleware → Handler → Service → Engine
//	                                              ↓
//	HTTP Response ← Handler ← Service Response ←─┘
package http
