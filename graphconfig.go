package fulfill

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// graphFile is the on-disk shape of a status graph definition:
//
//	channels:
//	  inside_valley:
//	    intake: [follow_up, converted, cancelled, rejected]
//	    ...
//	restocking: [cancelled, rejected, returned]
type graphFile struct {
	Channels   map[string]map[string][]string `yaml:"channels"`
	Restocking []string                       `yaml:"restocking"`
	Overrides  map[string][]string            `yaml:"restocking_overrides"`
}

// ParseGraph parses a YAML status graph definition supplied as deployment
// configuration and validates it. The returned graph and restock policy
// are ready to hand to NewEngine.
func ParseGraph(data []byte) (Graph, RestockPolicy, error) {
	var file graphFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, RestockPolicy{}, fmt.Errorf("%w: %v", ErrInvalidConfiguration, err)
	}

	graph := make(Graph, len(file.Channels))
	for channel, edges := range file.Channels {
		parsed := make(map[Status][]Status, len(edges))
		for from, targets := range edges {
			statuses := make([]Status, len(targets))
			for i, to := range targets {
				statuses[i] = Status(to)
			}
			parsed[Status(from)] = statuses
		}
		graph[FulfillmentType(channel)] = parsed
	}
	if err := graph.Validate(); err != nil {
		return nil, RestockPolicy{}, err
	}

	policy := DefaultRestockPolicy()
	if len(file.Restocking) > 0 {
		policy.Default = make([]Status, len(file.Restocking))
		for i, status := range file.Restocking {
			policy.Default[i] = Status(status)
		}
	}
	if len(file.Overrides) > 0 {
		policy.PerChannel = make(map[FulfillmentType][]Status, len(file.Overrides))
		for channel, set := range file.Overrides {
			statuses := make([]Status, len(set))
			for i, status := range set {
				statuses[i] = Status(status)
			}
			policy.PerChannel[FulfillmentType(channel)] = statuses
		}
	}
	if err := policy.Validate(graph); err != nil {
		return nil, RestockPolicy{}, err
	}

	return graph, policy, nil
}
