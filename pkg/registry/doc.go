// Package registry maps nodes to daemon connections.
//
// Resolving a node loads it from the store and decrypts its daemon secret
// with the TokenCodec; the result is cached for a short TTL. Token lookups
// used for authentication bypass the cache.
package registry
