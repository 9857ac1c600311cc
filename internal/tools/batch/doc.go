// Package batch accumulates per-item outcomes for operations that act on a
// list of message ids one at a time, and parses id lists given either as a
// single string or an array.
package batch
