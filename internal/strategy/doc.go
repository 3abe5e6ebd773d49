// Package strategy selects the backend for each new client connection.
//
// The only policy is strict round-robin over a fixed, ordered endpoint list:
// the i-th call to Next across the process lifetime returns the endpoint at
// index i mod N, no matter how many goroutines call it concurrently. Selection
// never inspects backend health or connection outcomes.
package strategy
