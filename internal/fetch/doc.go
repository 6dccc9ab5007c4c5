// Package fetch provides the minimal HTTP client the script importer needs.
//
// Two operations are exposed:
//   - Request: plain GET returning the body as text
//   - RequestWithEtag: conditional GET using If-None-Match revalidation
//
// Built on go-resty/resty with a shared transport from go-retryablehttp.
// Downloads are never retried automatically: failures surface to the caller,
// which owns the retry decision. A circuit breaker guards transport-level
// faults so a dead packager fails fast; HTTP statuses never trip it.
package fetch
