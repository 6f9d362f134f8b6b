package subflow

import "encoding/json"

// Position is a cosmetic layout hint: x, y.
type Position [2]int

// Sensor is a compiled sensor node.
type Sensor struct {
	Name        string         `json:"name"`
	Version     string         `json:"version"`
	Properties  map[string]any `json:"properties"`
	DataTrigger bool           `json:"dataTrigger"`
	TickTrigger bool           `json:"tickTrigger"`
	Resource    string         `json:"resource,omitempty"`
	Label       string         `json:"label"`
	Position    Position       `json:"position"`
}

// Actuator is a compiled actuator node.
type Actuator struct {
	Name       string         `json:"name"`
	Version    string         `json:"version"`
	Properties map[string]any `json:"properties"`
	Label      string         `json:"label"`
	Position   Position       `json:"position"`
}

// Trigger activates DestinationLabel when SourceLabel emits any of StatesTrigger.
type Trigger struct {
	SourceLabel      string   `json:"sourceLabel"`
	DestinationLabel string   `json:"destinationLabel"`
	StatesTrigger    []string `json:"statesTrigger"`
}

// Relation is a gate merge point.
type Relation struct {
	Label        string     `json:"label"`
	Type         string     `json:"type"`
	ParentLabels []string   `json:"parentLabels"`
	Combinations [][]string `json:"combinations"`
	Position     Position   `json:"position"`
}

// Graph is the flat low-level graph accepted by the rule engine.
type Graph struct {
	Sensors   []Sensor   `json:"sensors"`
	Actuators []Actuator `json:"actuators"`
	Relations []Relation `json:"relations"`
	Triggers  []Trigger  `json:"triggers"`
}

func newGraph() *Graph {
	return &Graph{
		Sensors:   []Sensor{},
		Actuators: []Actuator{},
		Relations: []Relation{},
		Triggers:  []Trigger{},
	}
}

// Relation returns the relation with the given label.
func (g *Graph) Relation(label string) (Relation, bool) {
	for _, r := range g.Relations {
		if r.Label == label {
			return r, true
		}
	}
	return Relation{}, false
}

// TaskPayload is the task-creation body: graph keys plus task metadata.
type TaskPayload struct {
	Graph
	Task TaskOptions `json:"task"`
}

// TemplatePayload is the template-creation body: graph keys plus a name.
type TemplatePayload struct {
	Graph
	Name string `json:"name"`
}

// Handle is what the persistence collaborator returns for a created resource.
type Handle struct {
	ID   string          `json:"ID,omitempty"`
	Name string          `json:"name,omitempty"`
	Raw  json.RawMessage `json:"-"`
}
