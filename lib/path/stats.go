package path

// BuildStats counts build outcomes for one PathSet.
type BuildStats struct {
	Attempts uint64
	Success  uint64
	Fails    uint64
	Timeouts uint64
}

// SuccessRatio is Success over finished builds, or 0 before any finished.
func (s BuildStats) SuccessRatio() float64 {
	finished := s.Success + s.Fails + s.Timeouts
	if finished == 0 {
		return 0
	}
	return float64(s.Success) / float64(finished)
}

func (s *BuildStats) record(err error) {
	switch KindOf(err) {
	case 0:
		if err == nil {
			s.Success++
			return
		}
		s.Fails++
	case TimeoutFailure:
		s.Timeouts++
	case Cancelled:
	default:
		s.Fails++
	}
}
