package statemachine

import "fmt"

type State string

type Transition struct {
	From State
	To   State
}

// Machine is a forward-only transition table positioned at Current.
type Machine struct {
	Current     State
	Transitions map[State]map[State]bool
}

func New(initial State, transitions []Transition) *Machine {
	m := &Machine{
		Current:     initial,
		Transitions: make(map[State]map[State]bool),
	}

	for _, t := range transitions {
		if m.Transitions[t.From] == nil {
			m.Transitions[t.From] = make(map[State]bool)
		}
		m.Transitions[t.From][t.To] = true
	}

	return m
}

func (m *Machine) CanTransitionTo(target State) bool {
	next, ok := m.Transitions[m.Current]
	if !ok {
		return false
	}
	return next[target]
}

func (m *Machine) TransitionTo(target State) error {
	if !m.CanTransitionTo(target) {
		return &TransitionError{From: m.Current, To: target}
	}
	m.Current = target
	return nil
}

// Sources lists, in the order of candidates, the states that may move to target.
func (m *Machine) Sources(target State, candidates []State) []State {
	out := []State{}
	for _, c := range candidates {
		if m.Transitions[c][target] {
			out = append(out, c)
		}
	}
	return out
}

// IsTerminal reports whether s has no outgoing transition.
func (m *Machine) IsTerminal(s State) bool {
	return len(m.Transitions[s]) == 0
}

type TransitionError struct {
	From State
	To   State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot transition from %s to %s", e.From, e.To)
}
