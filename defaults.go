package subflow

const (
	GateAnd = "AND"
	GateOr  = "OR"
)

// gateTrueState is the single state a gate emits once satisfied.
const gateTrueState = "TRUE"

// DefaultTaskPollingInterval is the polling interval, in seconds, of periodic tasks.
const DefaultTaskPollingInterval = 900

func defaultTemplates() []Template {
	return []Template{
		{
			Name:        GateAnd,
			Description: "gate to combine inputs, will continue if all inputs are truthy",
			Plugins: []PluginSpec{{
				Name:     GateAnd,
				Type:     PluginGate,
				Triggers: []string{gateTrueState},
			}},
		},
		{
			Name:        GateOr,
			Description: "gate to combine inputs, will continue if one of the inputs is truthy",
			Plugins: []PluginSpec{{
				Name:     GateOr,
				Type:     PluginGate,
				Triggers: []string{gateTrueState},
			}},
		},
	}
}

func isReservedName(name string) bool {
	return name == GateAnd || name == GateOr
}
