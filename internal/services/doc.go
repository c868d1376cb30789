// Package services implements the business logic layer between the HTTP
// handlers and the conversion engine, job store, and websocket hub.
//
// Services follow these principles:
//
//	1. Dependency injection for loose coupling
//	2. Context propagation on every operation
//	3. Error transformation at the boundary (engine errors stay internal,
//	   sentinel errors cross into transport)
//	4. Cross-cutting concerns (logging, metrics) handled here, not in
//	   handlers
package services
