// Package orchestrator coordinates operator-triggered gateway operations.
//
// A Controller owns five independent operation slots (protect, reveal, bulk protect,
// bulk reveal and health). Each invocation validates its input, builds a request from
// the settings current at that moment, calls the gateway on its own goroutine, records
// the attempt in the session log and publishes the outcome on the slot. Successful
// protect and bulk protect invocations copy their tokens into the matching reveal input.
package orchestrator
