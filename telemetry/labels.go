package telemetry

import "sort"

// flatten returns label names in sorted order with values aligned.
func flatten(labels map[string]string) labeled {
	names := make([]string, 0, len(labels))
	for name := range labels {
		names = append(names, name)
	}
	sort.Strings(names)
	values := make([]string, len(names))
	for i, name := range names {
		values[i] = labels[name]
	}
	return labeled{names: names, values: values}
}
