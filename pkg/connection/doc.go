// Package connection keeps a client session alive across failures.
//
// A Manager drives a ConnectFunc and, once a connection is reported lost,
// retries it in the background with exponential backoff:
//
//  1. Initial delay: 500 milliseconds
//  2. Each failure doubles the delay
//  3. The delay is capped at 30 seconds
//  4. A successful connect resets the delay
//
// Jitter spreads clients that lost the same server:
//
//	actual_delay = base_delay + random(0, base_delay * 0.25)
//
// SessionDialer supplies the ConnectFunc for socket sessions. It resolves
// the server, starts ConnectAsync and drives PollConnect in short slices
// so a cancelled context stops the attempt promptly.
package connection
