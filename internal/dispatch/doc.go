// Package dispatch runs the request pipeline: per-user daily limits, the
// pending registry with live queue positions, an unbounded FIFO drained by a
// fixed worker pool bound to rotating credential sets, and admin broadcasts.
package dispatch
