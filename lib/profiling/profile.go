package profiling

// DefaultChances is how many failures a relay is allowed before its
// success ratio is taken into account.
const DefaultChances = 4

// RouterProfile counts the outcomes observed for one relay.
type RouterProfile struct {
	ConnectGood    uint64 `cbor:"1,keyasint"`
	ConnectTimeout uint64 `cbor:"2,keyasint"`
	PathSuccess    uint64 `cbor:"3,keyasint"`
	PathFail       uint64 `cbor:"4,keyasint"`
	PathTimeout    uint64 `cbor:"5,keyasint"`
	// LastUpdated is unix milliseconds.
	LastUpdated int64 `cbor:"6,keyasint"`
}

// Decay halves every counter.
func (p *RouterProfile) Decay() {
	p.ConnectGood /= 2
	p.ConnectTimeout /= 2
	p.PathSuccess /= 2
	p.PathFail /= 2
	p.PathTimeout /= 2
}

func checkIsGood(fails, success, chances uint64) bool {
	if fails > 0 && fails+success >= chances {
		return success/fails > 1
	}
	if success == 0 {
		return fails < chances
	}
	return true
}

// IsGoodForConnect reports whether link attempts to the relay mostly succeed.
func (p RouterProfile) IsGoodForConnect(chances uint64) bool {
	return checkIsGood(p.ConnectTimeout, p.ConnectGood, chances)
}

// IsGoodForPath reports whether the relay should be used in new paths.
func (p RouterProfile) IsGoodForPath(chances uint64) bool {
	if p.PathTimeout > chances {
		return false
	}
	return checkIsGood(p.PathFail, p.PathSuccess, chances)
}
