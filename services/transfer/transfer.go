package transfer

import (
	"encoding/json"
	"fmt"
	"net/url"
	"path"

	"hpcjobs-controlplane/services/job"
)

// inputSources flattens the job's declared inputs into a list of source
// URLs. Inputs are stored either as a list of URLs or as a map from input
// name to one or more URLs.
func inputSources(j *job.Job) ([]string, error) {
	if len(j.Inputs) == 0 {
		return nil, nil
	}

	var asList []string
	if err := json.Unmarshal(j.Inputs, &asList); err == nil {
		return asList, nil
	}

	var asMap map[string]any
	if err := json.Unmarshal(j.Inputs, &asMap); err != nil {
		return nil, fmt.Errorf("failed to parse job inputs: %w", err)
	}

	var sources []string
	for name, v := range asMap {
		switch src := v.(type) {
		case string:
			sources = append(sources, src)
		case []any:
			for _, item := range src {
				s, ok := item.(string)
				if !ok {
					return nil, fmt.Errorf("input %s contains a non-string entry", name)
				}
				sources = append(sources, s)
			}
		default:
			return nil, fmt.Errorf("input %s has unsupported type %T", name, v)
		}
	}
	return sources, nil
}

// objectName derives the staged object name from a source URL.
func objectName(source string) (string, error) {
	u, err := url.Parse(source)
	if err != nil {
		return "", fmt.Errorf("failed to parse input source %q: %w", source, err)
	}
	name := path.Base(u.Path)
	if name == "" || name == "." || name == "/" {
		return "", fmt.Errorf("input source %q has no file name", source)
	}
	return name, nil
}
