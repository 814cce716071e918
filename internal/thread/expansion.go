package thread

import "sort"

// IDSet is an immutable set of comment ids. ExpansionState never mutates a
// set it has handed out; every change builds a new one.
type IDSet map[string]struct{}

// Has reports membership.
func (s IDSet) Has(id string) bool {
	_, ok := s[id]
	return ok
}

// Sorted returns the members in lexical order.
func (s IDSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (s IDSet) with(id string) IDSet {
	out := make(IDSet, len(s)+1)
	for k := range s {
		out[k] = struct{}{}
	}
	out[id] = struct{}{}
	return out
}

func (s IDSet) without(id string) IDSet {
	out := make(IDSet, len(s))
	for k := range s {
		if k != id {
			out[k] = struct{}{}
		}
	}
	return out
}

// ExpansionState tracks, for one open post view, which comments show their
// children (expanded) and which have a subtree fetch in flight (processing).
type ExpansionState struct {
	expanded   IDSet
	processing IDSet
	version    uint64

	// OnChange, when set, is called after every membership change.
	OnChange func(expanded, processing IDSet)
}

// NewExpansionState returns empty sets.
func NewExpansionState() *ExpansionState {
	return &ExpansionState{
		expanded:   IDSet{},
		processing: IDSet{},
	}
}

func (s *ExpansionState) IsExpanded(id string) bool   { return s.expanded.Has(id) }
func (s *ExpansionState) IsProcessing(id string) bool { return s.processing.Has(id) }

// Expanded returns the current expanded set value.
func (s *ExpansionState) Expanded() IDSet { return s.expanded }

// Processing returns the current processing set value.
func (s *ExpansionState) Processing() IDSet { return s.processing }

// Version increases by one on every membership change.
func (s *ExpansionState) Version() uint64 { return s.version }

func (s *ExpansionState) SetExpanded(id string, on bool) {
	if next, changed := toggleMembership(s.expanded, id, on); changed {
		s.expanded = next
		s.changed()
	}
}

func (s *ExpansionState) SetProcessing(id string, on bool) {
	if next, changed := toggleMembership(s.processing, id, on); changed {
		s.processing = next
		s.changed()
	}
}

// Forget drops id from both sets.
func (s *ExpansionState) Forget(id string) {
	s.SetExpanded(id, false)
	s.SetProcessing(id, false)
}

func (s *ExpansionState) changed() {
	s.version++
	if s.OnChange != nil {
		s.OnChange(s.expanded, s.processing)
	}
}

func toggleMembership(set IDSet, id string, on bool) (IDSet, bool) {
	switch {
	case on && !set.Has(id):
		return set.with(id), true
	case !on && set.Has(id):
		return set.without(id), true
	default:
		return set, false
	}
}
