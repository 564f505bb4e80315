// Package wire holds the on-the-wire forms exchanged by path builders and
// relays: hop records, status records, fixed-size frames, link messages and
// the routing messages carried inside relayed data.
//
// Every structure is a bencoded dictionary carrying an explicit protocol
// version under key "v". Decoders reject any other version rather than
// guessing, and never panic on malformed input.
//
// Link messages form a closed set (CommitMessage, StatusMessage,
// RelayUpstream, RelayDownstream) selected by the "a" key. Callers dispatch
// on the concrete type returned by ParseLinkMessage with a type switch.
package wire
