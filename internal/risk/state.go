package risk

import (
	"math"
	"sort"
)

// State is the session-scoped guardrail state. It is owned by a Guardrail
// and only changes through its methods; callers get copies.
type State struct {
	Session     string             `json:"session"`
	TradesToday int                `json:"trades_today"`
	Halted      bool               `json:"halted"`
	Exposure    map[string]float64 `json:"exposure"`
	Blackout    map[string]bool    `json:"blackout"`
}

func newState(session string, blackout []string) State {
	s := State{
		Session:  session,
		Exposure: make(map[string]float64),
		Blackout: make(map[string]bool),
	}
	for _, sym := range blackout {
		s.Blackout[sym] = true
	}
	return s
}

// PortfolioExposure sums exposure across symbols.
func (s State) PortfolioExposure() float64 {
	total := 0.0
	for _, v := range s.Exposure {
		total += v
	}
	return total
}

// Known reports whether every exposure value is usable.
func (s State) Known() bool {
	for _, v := range s.Exposure {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return false
		}
	}
	return true
}

// BlackoutSymbols returns the blackout set in sorted order.
func (s State) BlackoutSymbols() []string {
	out := make([]string, 0, len(s.Blackout))
	for sym := range s.Blackout {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

func (s State) clone() State {
	c := s
	c.Exposure = make(map[string]float64, len(s.Exposure))
	for k, v := range s.Exposure {
		c.Exposure[k] = v
	}
	c.Blackout = make(map[string]bool, len(s.Blackout))
	for k, v := range s.Blackout {
		c.Blackout[k] = v
	}
	return c
}
