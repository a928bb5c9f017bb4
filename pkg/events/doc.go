// Package events decodes the bus's tagged-variant message shapes into a Go
// type the dispatcher switches on directly. Decoding is pure: it never logs
// or blocks, so it can be fuzzed and unit tested in isolation from the
// broadcaster adapter that calls it.
package events
