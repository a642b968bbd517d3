package models

import (
	"encoding/json"
	"slices"
	"time"
)

type Direction string

const (
	DirectionBullish Direction = "bullish"
	DirectionBearish Direction = "bearish"
	DirectionNeutral Direction = "neutral"
)

func (d Direction) Valid() bool {
	switch d {
	case DirectionBullish, DirectionBearish, DirectionNeutral:
		return true
	}
	return false
}

// Signal types published by the core itself.
const (
	SignalAgentStatus        = "agent_status"
	SignalExecution          = "execution"
	SignalOrchestratorStatus = "orchestrator_status"
	SignalOpportunity        = "opportunity"
	SignalCoordinatorStatus  = "coordinator_status"
	SignalRelayStatus        = "relay_status"
)

// Signal is a market or status event routed through the bus.
// An empty TargetComponents means broadcast.
type Signal struct {
	ID               string                 `json:"id"`
	Timestamp        time.Time              `json:"timestamp"`
	Pair             string                 `json:"pair"`
	Type             string                 `json:"type"`
	Strength         float64                `json:"strength"`
	Direction        Direction              `json:"direction"`
	Confidence       float64                `json:"confidence"` // 0..100
	Source           string                 `json:"source"`
	TargetComponents []string               `json:"targetComponents"`
	Metadata         map[string]interface{} `json:"metadata"`
}

// MarshalJSON always emits the array and object fields and a UTC ISO8601 timestamp.
func (s Signal) MarshalJSON() ([]byte, error) {
	type wire Signal
	w := wire(s)
	w.Timestamp = s.Timestamp.UTC()
	if w.TargetComponents == nil {
		w.TargetComponents = []string{}
	}
	if w.Metadata == nil {
		w.Metadata = map[string]interface{}{}
	}
	return json.Marshal(w)
}

// Broadcast reports whether s is addressed to every component.
func (s Signal) Broadcast() bool { return len(s.TargetComponents) == 0 }

// Targets reports whether component should receive s.
// The empty component name is a wildcard listener.
func (s Signal) Targets(component string) bool {
	return s.Broadcast() || component == "" || slices.Contains(s.TargetComponents, component)
}

// SignalFilter narrows a subscription; empty lists match everything.
type SignalFilter struct {
	Pairs       []string `json:"pairs,omitempty" yaml:"pairs"`
	SignalTypes []string `json:"signalTypes,omitempty" yaml:"signal_types"`
	Sources     []string `json:"sources,omitempty" yaml:"sources"`
}

func (f SignalFilter) Empty() bool {
	return len(f.Pairs) == 0 && len(f.SignalTypes) == 0 && len(f.Sources) == 0
}

func (f SignalFilter) Match(s Signal) bool {
	return matchAny(f.Pairs, s.Pair) && matchAny(f.SignalTypes, s.Type) && matchAny(f.Sources, s.Source)
}

func matchAny(set []string, v string) bool {
	return len(set) == 0 || slices.Contains(set, v)
}

// Subscription describes a registered bus consumer.
type Subscription struct {
	ID        string       `json:"id"`
	Component string       `json:"component"`
	Filter    SignalFilter `json:"filter"`
}
