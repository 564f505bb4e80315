package path

// State is a path's lifecycle state.
type State int

const (
	// Building paths have been dispatched and await their status chain.
	Building State = iota
	// Established paths carry routing messages.
	Established
	// Timeout paths failed to build or stopped answering probes.
	Timeout
	// Expired paths reached the end of their lifetime.
	Expired
)

func (s State) String() string {
	switch s {
	case Building:
		return "building"
	case Established:
		return "established"
	case Timeout:
		return "timeout"
	case Expired:
		return "expired"
	default:
		return "unknown"
	}
}

// Done reports whether s is final.
func (s State) Done() bool {
	return s == Timeout || s == Expired
}

// canMove reports whether a path may go from s to next.
func (s State) canMove(next State) bool {
	switch s {
	case Building:
		return next == Established || next == Timeout
	case Established:
		return next == Timeout || next == Expired
	default:
		return false
	}
}
