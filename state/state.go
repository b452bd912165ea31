package state

import (
	"maps"
	"slices"
	"sync"
	"time"
)

// ComponentState is the runtime state of one mounted component.
type ComponentState struct {
	Name         string         `json:"componentName"`
	Mounted      bool           `json:"mounted"`
	MountedAt    time.Time      `json:"mountTimestamp"`
	Interactions int            `json:"interactionCount"`
	Errors       int            `json:"errorCount"`
	Props        map[string]any `json:"props,omitempty"`
}

// Components holds component state keyed by name.
// Mounting a name that is already mounted replaces the entry.
type Components struct {
	states map[string]*ComponentState
	sync.RWMutex
}

func NewComponents() *Components {
	return &Components{states: make(map[string]*ComponentState)}
}

// Mount creates (or replaces) the entry for name.
func (c *Components) Mount(name string, props map[string]any, at time.Time) ComponentState {
	c.Lock()
	defer c.Unlock()
	st := &ComponentState{Name: name, Mounted: true, MountedAt: at, Props: props}
	c.states[name] = st
	return *st
}

// Unmount removes the entry and returns what it held.
func (c *Components) Unmount(name string) (ComponentState, bool) {
	c.Lock()
	st, exists := c.states[name]
	if exists {
		delete(c.states, name)
	}
	c.Unlock()

	if !exists {
		return ComponentState{}, false
	}
	return *st, true
}

// IncInteractions bumps the interaction counter of a mounted component.
func (c *Components) IncInteractions(name string) bool {
	c.Lock()
	defer c.Unlock()
	st, ok := c.states[name]
	if ok {
		st.Interactions++
	}
	return ok
}

// IncErrors bumps the error counter of a mounted component.
func (c *Components) IncErrors(name string) bool {
	c.Lock()
	defer c.Unlock()
	st, ok := c.states[name]
	if ok {
		st.Errors++
	}
	return ok
}

// Get returns a copy of the state for name.
func (c *Components) Get(name string) (ComponentState, bool) {
	c.RLock()
	defer c.RUnlock()
	st, exists := c.states[name]
	if !exists {
		return ComponentState{}, false
	}
	return *st, true
}

// Names returns the tracked component names, sorted.
func (c *Components) Names() []string {
	c.RLock()
	defer c.RUnlock()
	return slices.Sorted(maps.Keys(c.states))
}

// Len returns the number of tracked components.
func (c *Components) Len() int {
	c.RLock()
	defer c.RUnlock()
	return len(c.states)
}
