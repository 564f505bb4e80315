package selector

import (
	"fmt"

	"github.com/go-i2p/logger"

	"github.com/go-i2p/go-onionpath/lib/common"
)

// FilteringSelector wraps another HopSelector and rejects candidates that
// fail any of its filters. A rejected candidate is added to a private copy
// of the exclude set and the underlying selector is asked again, up to
// maxRetries times.
type FilteringSelector struct {
	underlying HopSelector
	filters    []PeerFilter
	maxRetries int
	name       string
}

// FilteringSelectorOption configures a FilteringSelector.
type FilteringSelectorOption func(*FilteringSelector)

// WithFilters adds filters to the selector.
func WithFilters(filters ...PeerFilter) FilteringSelectorOption {
	return func(s *FilteringSelector) {
		s.filters = append(s.filters, filters...)
	}
}

// WithMaxRetries sets how many rejected candidates are tolerated per pick.
func WithMaxRetries(n int) FilteringSelectorOption {
	return func(s *FilteringSelector) {
		s.maxRetries = n
	}
}

// WithName sets the name used in logs.
func WithName(name string) FilteringSelectorOption {
	return func(s *FilteringSelector) {
		s.name = name
	}
}

// NewFilteringSelector wraps underlying.
func NewFilteringSelector(underlying HopSelector, opts ...FilteringSelectorOption) (*FilteringSelector, error) {
	if underlying == nil {
		return nil, fmt.Errorf("underlying selector cannot be nil")
	}
	s := &FilteringSelector{
		underlying: underlying,
		maxRetries: 16,
		name:       "FilteringSelector",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// AddFilter appends a filter to the chain.
func (s *FilteringSelector) AddFilter(f PeerFilter) {
	s.filters = append(s.filters, f)
}

// SelectHop implements HopSelector.
func (s *FilteringSelector) SelectHop(prev *common.RelayDescriptor, exclude common.ExcludeSet, hopIndex int) (common.RelayDescriptor, error) {
	local := exclude.Clone()
	rejected := make(map[string]int)
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		r, err := s.underlying.SelectHop(prev, local, hopIndex)
		if err != nil {
			return common.RelayDescriptor{}, err
		}
		if name, ok := s.firstRejecting(r); ok {
			rejected[name]++
			local.Add(r.ID)
			continue
		}
		return r, nil
	}
	log.WithFields(logger.Fields{
		"at":        s.name,
		"hop_index": hopIndex,
		"rejected":  rejected,
		"reason":    "retries exhausted",
	}).Warn("could not find relay matching filter criteria")
	return common.RelayDescriptor{}, ErrNoCandidates
}

func (s *FilteringSelector) firstRejecting(r common.RelayDescriptor) (string, bool) {
	for _, f := range s.filters {
		if !f.Accept(r) {
			log.WithFields(logger.Fields{
				"at":     s.name,
				"relay":  r.ID.Short(),
				"filter": f.Name(),
				"reason": "relay rejected by filter",
			}).Debug("relay filtered out")
			return f.Name(), true
		}
	}
	return "", false
}

var _ HopSelector = (*FilteringSelector)(nil)
