// Package rest dispatches outbound REST calls through a fixed pool of workers.
//
// Requests are queued in submission order, signed once per physical send,
// gated by a global token bucket and handed to a Transport. Every request
// ends in exactly one of its callbacks:
//
//   - OnSuccess for a 2xx response
//   - OnFailure for a non-2xx response, a cancellation or an expired deadline
//   - OnError for signing, transport and internal failures
//
// Completion order across workers is not guaranteed. Use a single worker, or
// wait on each Handle, when calls depend on each other.
package rest
