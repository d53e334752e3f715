// Package flight implements single-flight deduplication for artifact
// downloads. The first request for an uncached path becomes the leader and
// drives the upstream fetch; concurrent requests for the same path attach as
// waiters and mirror the leader's byte stream chunk by chunk. A flight is
// removed from the registry before its outcome becomes visible, so a request
// arriving after resolution always starts a fresh cycle. Waiters attaching
// after streaming has begun never receive a truncated stream: they wait for
// the outcome and are served from the freshly committed cache entry instead.
package flight
