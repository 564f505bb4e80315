package selector

import "github.com/go-i2p/go-onionpath/lib/common"

// PeerFilter accepts or rejects a candidate relay. Filters stack to build
// composite selection logic.
type PeerFilter interface {
	// Name identifies the filter in logs.
	Name() string
	// Accept reports whether r may be used.
	Accept(r common.RelayDescriptor) bool
}

// FuncFilter wraps a function as a PeerFilter.
type FuncFilter struct {
	name     string
	acceptFn func(r common.RelayDescriptor) bool
}

// NewFuncFilter creates a filter from a function.
func NewFuncFilter(name string, acceptFn func(r common.RelayDescriptor) bool) *FuncFilter {
	return &FuncFilter{name: name, acceptFn: acceptFn}
}

// Name returns the filter name.
func (f *FuncFilter) Name() string { return f.name }

// Accept calls the wrapped function. A nil function accepts everything.
func (f *FuncFilter) Accept(r common.RelayDescriptor) bool {
	if f.acceptFn == nil {
		return true
	}
	return f.acceptFn(r)
}

// CompositeFilter accepts a relay only if every inner filter does.
type CompositeFilter struct {
	name    string
	filters []PeerFilter
}

// NewCompositeFilter creates an AND filter.
func NewCompositeFilter(name string, filters ...PeerFilter) *CompositeFilter {
	return &CompositeFilter{name: name, filters: filters}
}

// Name returns the filter name.
func (f *CompositeFilter) Name() string { return f.name }

// Accept implements PeerFilter.
func (f *CompositeFilter) Accept(r common.RelayDescriptor) bool {
	for _, filter := range f.filters {
		if !filter.Accept(r) {
			return false
		}
	}
	return true
}

// AnyFilter accepts a relay if any inner filter does. With no inner
// filters it accepts everything.
type AnyFilter struct {
	name    string
	filters []PeerFilter
}

// NewAnyFilter creates an OR filter.
func NewAnyFilter(name string, filters ...PeerFilter) *AnyFilter {
	return &AnyFilter{name: name, filters: filters}
}

// Name returns the filter name.
func (f *AnyFilter) Name() string { return f.name }

// Accept implements PeerFilter.
func (f *AnyFilter) Accept(r common.RelayDescriptor) bool {
	if len(f.filters) == 0 {
		return true
	}
	for _, filter := range f.filters {
		if filter.Accept(r) {
			return true
		}
	}
	return false
}

// InvertFilter negates another filter.
type InvertFilter struct {
	inner PeerFilter
}

// NewInvertFilter creates a NOT filter.
func NewInvertFilter(inner PeerFilter) *InvertFilter {
	return &InvertFilter{inner: inner}
}

// Name returns "not(<inner>)".
func (f *InvertFilter) Name() string { return "not(" + f.inner.Name() + ")" }

// Accept implements PeerFilter.
func (f *InvertFilter) Accept(r common.RelayDescriptor) bool { return !f.inner.Accept(r) }

var (
	_ PeerFilter = (*FuncFilter)(nil)
	_ PeerFilter = (*CompositeFilter)(nil)
	_ PeerFilter = (*AnyFilter)(nil)
	_ PeerFilter = (*InvertFilter)(nil)
)
