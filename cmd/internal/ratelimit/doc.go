// Package ratelimit implements a keyed token-bucket limiter.
//
// Buckets refill in whole intervals: after k full intervals, k*RefillRate
// tokens are added (capped at MaxTokens). Keys are namespaced by the call
// site prefix so flows never share quota. Backends must apply one take
// atomically per key; the local block cache only short-circuits requests that
// are already known to be blocked.
package ratelimit
