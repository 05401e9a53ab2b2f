// Package distribution picks which group member(s) should ring next.
//
// Strategies are pure over their inputs: member list, rotation cursor,
// required skill and an eligibility check supplied by the caller (the
// presence cross-check). Finding nobody is an expected outcome reported via
// Result.Exhausted, never an error.
package distribution

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"
)

var ErrUnknownStrategy = errors.New("distribution: unknown strategy")

type Strategy string

const (
	// Hunt group distributions.
	Linear     Strategy = "linear"
	Circular   Strategy = "circular"
	Uniform    Strategy = "uniform"
	Weighted   Strategy = "weighted"
	SkillBased Strategy = "skill-based"

	// Ring group strategies.
	Simultaneous Strategy = "simultaneous"
	Sequential   Strategy = "sequential"
	Random       Strategy = "random"
	LeastRecent  Strategy = "least-recent"
)

// ValidHunt reports whether s may be used by a hunt group.
func ValidHunt(s Strategy) bool {
	switch s {
	case Linear, Circular, Uniform, Weighted, SkillBased:
		return true
	}
	return false
}

// ValidRing reports whether s may be used by a ring group.
func ValidRing(s Strategy) bool {
	switch s {
	case Simultaneous, Sequential, Random, LeastRecent:
		return true
	}
	return false
}

// ValidQueue reports whether s may be used as a queue ring strategy.
func ValidQueue(s Strategy) bool { return ValidHunt(s) || ValidRing(s) }

// Member is a candidate extension in a group.
type Member struct {
	Extension    string   `json:"extension"`
	Available    bool     `json:"available"`
	Weight       int      `json:"weight"`
	Skills       []string `json:"skills,omitempty"`

	// CurrentCalls is the member's call count as last reported by its
	// device. Live presence overrides it once the agent registers.
	CurrentCalls int `json:"current_calls"`
}

func (m Member) hasSkill(skill string) bool {
	for _, s := range m.Skills {
		if s == skill {
			return true
		}
	}
	return false
}

// Request is one selection.
type Request struct {
	Strategy Strategy
	Members  []Member

	// Cursor is the group's LastSelectedIndex; -1 when nothing was chosen yet.
	Cursor int

	// RequiredSkill is the call's skill tag for skill-based selection.
	RequiredSkill string

	// Eligible cross-checks a member against live presence. Nil accepts all.
	Eligible func(Member) bool
}

// Result of a selection.
type Result struct {
	// Targets are the members to ring; more than one only for simultaneous.
	Targets []Member

	// Index is the position of the (first) chosen member in Request.Members,
	// or -1. Callers persist it as the group's LastSelectedIndex.
	Index int

	Exhausted bool
}

// Extensions returns the target extensions in order.
func (r Result) Extensions() []string {
	out := make([]string, 0, len(r.Targets))
	for _, m := range r.Targets {
		out = append(out, m.Extension)
	}
	return out
}

// Selector applies strategies. It is safe for concurrent use.
type Selector struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewSelector uses rng for random strategies; nil seeds from the clock.
func NewSelector(rng *rand.Rand) *Selector {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Selector{rng: rng}
}

func (s *Selector) intn(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Intn(n)
}

// Pick selects the next target(s) for req.
func (s *Selector) Pick(req Request) (Result, error) {
	eligible := func(i int) bool {
		m := req.Members[i]
		if !m.Available {
			return false
		}
		return req.Eligible == nil || req.Eligible(m)
	}

	var idx []int
	for i := range req.Members {
		if eligible(i) {
			idx = append(idx, i)
		}
	}

	switch req.Strategy {
	case Linear, Sequential:
		if len(idx) == 0 {
			return exhausted(), nil
		}
		return s.one(req, idx[0]), nil

	case Circular, LeastRecent:
		n := len(req.Members)
		if n == 0 || len(idx) == 0 {
			return exhausted(), nil
		}
		start := 0
		if req.Cursor >= 0 {
			start = (req.Cursor + 1) % n
		}
		for k := 0; k < n; k++ {
			i := (start + k) % n
			if eligible(i) {
				return s.one(req, i), nil
			}
		}
		return exhausted(), nil

	case Uniform, Random:
		if len(idx) == 0 {
			return exhausted(), nil
		}
		return s.one(req, idx[s.intn(len(idx))]), nil

	case Weighted:
		return s.weighted(req, idx), nil

	case SkillBased:
		if len(idx) == 0 {
			return exhausted(), nil
		}
		if req.RequiredSkill != "" {
			for _, i := range idx {
				if req.Members[i].hasSkill(req.RequiredSkill) {
					return s.one(req, i), nil
				}
			}
		}
		return s.one(req, idx[0]), nil

	case Simultaneous:
		if len(idx) == 0 {
			return exhausted(), nil
		}
		out := Result{Index: -1}
		for _, i := range idx {
			out.Targets = append(out.Targets, req.Members[i])
		}
		return out, nil

	default:
		return Result{}, fmt.Errorf("%w: %q", ErrUnknownStrategy, req.Strategy)
	}
}

func (s *Selector) weighted(req Request, idx []int) Result {
	var total int
	for _, i := range idx {
		if w := req.Members[i].Weight; w > 0 {
			total += w
		}
	}
	if total <= 0 {
		return exhausted()
	}

	r := s.intn(total) // 0..total-1
	var acc int
	for _, i := range idx {
		w := req.Members[i].Weight
		if w <= 0 {
			continue
		}
		acc += w
		if r < acc {
			return s.one(req, i)
		}
	}
	return exhausted()
}

func (s *Selector) one(req Request, i int) Result {
	return Result{Targets: []Member{req.Members[i]}, Index: i}
}

func exhausted() Result { return Result{Index: -1, Exhausted: true} }
