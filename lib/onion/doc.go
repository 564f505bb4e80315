// Package onion implements the telescoping construction used to build
// paths and the per-hop layering of data relayed over them.
//
// # Commit
//
// The originator seals one hop frame per relay, iterating from the last hop
// to the first. After sealing hop i it XORs every later frame with hop i's
// path keystream, so each relay can read only frame 0 of what it receives.
// A relay opens its frame, derives its path key from the record's commit
// key, strips its layer from the remaining frames, shifts them left and
// pads with a random frame before forwarding.
//
// # Status chain
//
// Replies travel back hop by hop. Each relay shifts the status frames right
// and places its own sealed frame at index 0, so the originator finds hop
// i's reply at index i and opens it with hop i's reply key.
//
// # Routing data
//
// Data on an established path carries a nonce that each hop XORs with its
// NonceXOR after applying its layer, giving every hop a distinct keystream.
//
// All functions are pure and safe to run on worker goroutines.
package onion
