package ci

// ParameterSet maps a parameter name to its declared values, in declaration order.
type ParameterSet map[string][]string

// Choices returns the values declared for name, or nil.
func (p ParameterSet) Choices(name string) []string {
	if p == nil {
		return nil
	}
	return p[name]
}

type jobList struct {
	Jobs []struct {
		Name  string `json:"name"`
		Class string `json:"_class"`
	} `json:"jobs"`
}

type jobInfo struct {
	Property []struct {
		ParameterDefinitions []parameterDefinition `json:"parameterDefinitions"`
	} `json:"property"`
}

// parameterDefinition covers plain choice parameters ("choices") and the
// richer value-list shape used by extended choice plugins ("allValueItems").
type parameterDefinition struct {
	Name          string   `json:"name"`
	Choices       []string `json:"choices"`
	AllValueItems *struct {
		Values []struct {
			Name  string `json:"name"`
			Value string `json:"value"`
		} `json:"values"`
	} `json:"allValueItems"`
}

func (d parameterDefinition) values() []string {
	if len(d.Choices) > 0 {
		return d.Choices
	}
	if d.AllValueItems == nil {
		return nil
	}
	out := make([]string, 0, len(d.AllValueItems.Values))
	for _, v := range d.AllValueItems.Values {
		if v.Value != "" {
			out = append(out, v.Value)
		}
	}
	return out
}

func (j jobInfo) parameterSet() ParameterSet {
	set := ParameterSet{}
	for _, prop := range j.Property {
		for _, def := range prop.ParameterDefinitions {
			if def.Name == "" {
				continue
			}
			set[def.Name] = def.values()
		}
	}
	return set
}
