package oracle

import (
	"errors"
	"fmt"
)

// Actor is a registered oracle. Actors are never modified after
// registration; slices handed out by the Registry must be treated as
// read-only.
type Actor struct {
	Identity string
	Indexes  []uint8
	Status   StatusCode
}

// Holds reports whether the actor was assigned index.
func (a Actor) Holds(index uint8) bool {
	for _, idx := range a.Indexes {
		if idx == index {
			return true
		}
	}
	return false
}

// Registry maps oracle identities to actors. It is built once from the
// registration results and only read afterwards, so it needs no locking.
type Registry struct {
	actors     []Actor
	byIdentity map[string]int
	byIndex    map[uint8][]int
}

// NewRegistry builds a registry preserving the order of actors. Identities
// must be unique.
func NewRegistry(actors ...Actor) (*Registry, error) {
	r := &Registry{
		actors:     make([]Actor, 0, len(actors)),
		byIdentity: make(map[string]int, len(actors)),
		byIndex:    make(map[uint8][]int),
	}
	for _, a := range actors {
		if a.Identity == "" {
			return nil, errors.New("actor without identity")
		}
		if _, dup := r.byIdentity[a.Identity]; dup {
			return nil, fmt.Errorf("duplicate actor %s", a.Identity)
		}
		a.Indexes = append([]uint8(nil), a.Indexes...)

		pos := len(r.actors)
		r.actors = append(r.actors, a)
		r.byIdentity[a.Identity] = pos

		seen := make(map[uint8]bool, len(a.Indexes))
		for _, idx := range a.Indexes {
			if seen[idx] {
				continue
			}
			seen[idx] = true
			r.byIndex[idx] = append(r.byIndex[idx], pos)
		}
	}
	return r, nil
}

// Len returns the number of actors.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.actors)
}

// Actors returns all actors in registration order.
func (r *Registry) Actors() []Actor {
	if r == nil {
		return nil
	}
	return append([]Actor(nil), r.actors...)
}

// Lookup returns the actor registered under identity.
func (r *Registry) Lookup(identity string) (Actor, bool) {
	if r == nil {
		return Actor{}, false
	}
	pos, ok := r.byIdentity[identity]
	if !ok {
		return Actor{}, false
	}
	return r.actors[pos], true
}

// Resolve returns, in registration order, every actor holding index.
func (r *Registry) Resolve(index uint8) []Actor {
	if r == nil {
		return nil
	}
	positions := r.byIndex[index]
	if len(positions) == 0 {
		return nil
	}
	out := make([]Actor, len(positions))
	for i, pos := range positions {
		out[i] = r.actors[pos]
	}
	return out
}
