// Package core implements the intelligent request router and response
// cache at the heart of the assistant: fingerprinting, task classification,
// per-provider rate limiting and health tracking, a multi-tier response
// cache, provider adapters, the router itself, a streaming sentence
// tokenizer, a streaming coordinator, and a bounded parallel executor.
//
// Subpackages hold the individual components (fingerprint, classifier,
// ratelimit, health, cache, providers, router, tokenizer, streaming,
// executor); this package holds the shared data model and error types
// that every component depends on.
package core
