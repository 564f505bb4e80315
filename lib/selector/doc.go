// Package selector chooses relays for new paths.
//
// A HopSelector is asked for one relay at a time so that each pick can
// depend on the previous hop and on everything already chosen. Selectors
// stack: a FilteringSelector wraps another selector and applies PeerFilter
// predicates to its candidates.
package selector
