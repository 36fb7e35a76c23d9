// Package engine interprets a validated program: it dispatches every
// task kind, keeps the execution cursor (including the nested cursors of
// serial and for bodies), and drives the main menu.
package engine

import (
	"strings"
	"sync"

	"github.com/tillfalko/interpolation-engine/internal/interp"
)

// cursorPrefix namespaces the synthetic nested-cursor keys inside state
// snapshots.
const cursorPrefix = "order_index/"

// State is the mutable execution context: the insert store, the visible
// output accumulated since the last clear, the top-level cursor and the
// nested cursors of any active block. All of it round-trips through save
// snapshots.
type State struct {
	Inserts *interp.Store

	mu         sync.Mutex
	output     string
	orderIndex int
	cursors    map[string]int
	label      string
}

// NewState builds a State from a loaded state map.
func NewState(m map[string]any) *State {
	s := &State{
		Inserts:    interp.NewStore(nil),
		orderIndex: 1,
		cursors:    map[string]int{},
	}
	s.restoreLocked(m)
	return s
}

func (s *State) restoreLocked(m map[string]any) {
	inserts, _ := m["inserts"].(map[string]any)
	s.Inserts.Replace(inserts)
	s.output, _ = m["output"].(string)
	if idx, ok := interp.AsInt(m["order_index"]); ok {
		s.orderIndex = idx
	} else {
		s.orderIndex = 1
	}
	s.cursors = map[string]int{}
	for k, v := range m {
		if strings.HasPrefix(k, cursorPrefix) {
			if idx, ok := interp.AsInt(v); ok {
				s.cursors[k] = idx
			}
		}
	}
	s.label, _ = m["label"].(string)
}

// Restore replaces the live state with a deep copy of snapshot. ARG*
// inserts survive so program-level parameters are not clobbered.
func (s *State) Restore(snapshot map[string]any) {
	args := map[string]any{}
	for _, k := range s.Inserts.Keys() {
		if isArgName(k) {
			v, _ := s.Inserts.Get(k)
			args[k] = v
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.restoreLocked(interp.DeepCopy(snapshot).(map[string]any))
	for k, v := range args {
		s.Inserts.Set(k, v)
	}
}

// Snapshot serialises the whole state, cursors included.
func (s *State) Snapshot() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[string]any{
		"inserts":     s.Inserts.Snapshot(),
		"output":      s.output,
		"order_index": s.orderIndex,
	}
	for k, v := range s.cursors {
		out[k] = v
	}
	if s.label != "" {
		out["label"] = s.label
	}
	return out
}

func isArgName(k string) bool {
	if !strings.HasPrefix(k, "ARG") || len(k) == 3 {
		return false
	}
	for _, c := range k[3:] {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

func (s *State) Output() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.output
}

func (s *State) AppendOutput(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.output += text
}

func (s *State) ClearOutput() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.output = ""
}

func (s *State) OrderIndex() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.orderIndex
}

func (s *State) SetOrderIndex(idx int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orderIndex = idx
}

// CursorOr returns the nested cursor at key, storing and returning def
// when absent.
func (s *State) CursorOr(key string, def int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.cursors[key]; ok {
		return v
	}
	s.cursors[key] = def
	return def
}

func (s *State) SetCursor(key string, v int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursors[key] = v
}

func (s *State) DeleteCursor(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cursors, key)
}

// DeleteCursorsWithPrefix clears every nested cursor owned by a block.
func (s *State) DeleteCursorsWithPrefix(prefix string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.cursors {
		if strings.HasPrefix(k, prefix) {
			delete(s.cursors, k)
		}
	}
}

func (s *State) Label() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.label
}

func (s *State) SetLabel(label string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.label = label
}
