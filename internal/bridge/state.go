package bridge

import (
	"sort"

	"github.com/HsiangNianian/uiabridge/internal/host"
)

// State is owned by the event loop. Every callback receives it explicitly and
// nothing outside the loop may hold on to it.
type State struct {
	monitored map[host.TabID]struct{}
}

func NewState() *State {
	return &State{monitored: make(map[host.TabID]struct{})}
}

func (s *State) Monitored(tab host.TabID) bool {
	_, ok := s.monitored[tab]
	return ok
}

// Monitor registers tab and reports whether it was newly added.
func (s *State) Monitor(tab host.TabID) bool {
	if s.Monitored(tab) {
		return false
	}
	s.monitored[tab] = struct{}{}
	return true
}

// Forget evicts tab and reports whether it was registered.
func (s *State) Forget(tab host.TabID) bool {
	if !s.Monitored(tab) {
		return false
	}
	delete(s.monitored, tab)
	return true
}

func (s *State) MonitoredTabs() []host.TabID {
	tabs := make([]host.TabID, 0, len(s.monitored))
	for tab := range s.monitored {
		tabs = append(tabs, tab)
	}
	sort.Slice(tabs, func(i, j int) bool { return tabs[i] < tabs[j] })
	return tabs
}
