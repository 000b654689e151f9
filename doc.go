// Package tahan is a resilient request layer that wraps a raw network call
// with:
//
//   - Response caching for read-only requests, bounded by a maximum age
//   - Retries with exponential backoff and jitter, gated by idempotency
//   - Per-attempt timeouts and caller cancellation through context.Context
//   - Authentication tokens with deduplicated refresh (TokenManager)
//   - Optional merging of concurrent identical reads
//   - Prometheus metrics and zerolog structured logging
//
// Every failure is returned as a *ClientError carrying exactly one error type
// (ErrorTypeNetwork, ErrorTypeTimeout, ErrorTypeClient, ErrorTypeServer,
// ErrorTypeAuthentication, ErrorTypeValidation or ErrorTypeCanceled), so
// callers can branch with errors.Is against the Err* sentinels.
//
// Typical usage:
//
//	tokens := tahan.NewTokenManager(authenticator, store, tahan.TokenManagerConfig{})
//	client := tahan.New(
//	    tahan.WithRetryAttempts(3),
//	    tahan.WithCacheMaxAge(time.Minute),
//	    tahan.WithAuthorizer(tokens),
//	)
//	req := tahan.Get("https://api.example.com/data")
//	req.RequiresAuth = true
//	resp, err := client.Execute(ctx, req)
//
// Mutating methods (POST, PUT, PATCH, DELETE) must state whether they are
// safe to repeat; a non-idempotent request is only retried when the failure
// happened before the server could have seen it.
package tahan
