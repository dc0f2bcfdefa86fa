package queue

import (
	"errors"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// WorkOverrides maps job names to work options that replace the ones declared in code.
//
// The YAML document is a plain mapping:
//
//	send-welcome-email:
//	  localConcurrency: 4
//	rebuild-search-index:
//	  batchSize: 50
//	  pollingIntervalSeconds: 10
type WorkOverrides map[string]WorkOptions

// LoadWorkOverrides decodes a YAML overrides document. An empty document yields no overrides.
func LoadWorkOverrides(r io.Reader) (WorkOverrides, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	overrides := WorkOverrides{}
	if err := dec.Decode(&overrides); err != nil {
		if errors.Is(err, io.EOF) {
			return WorkOverrides{}, nil
		}
		return nil, errors.Join(ErrInvalidOverrides, err)
	}

	for name := range overrides {
		if err := ValidateName(name); err != nil {
			return nil, errors.Join(ErrInvalidOverrides, err)
		}
	}
	return overrides, nil
}

// LoadWorkOverridesFile reads overrides from path
func LoadWorkOverridesFile(path string) (WorkOverrides, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Join(ErrInvalidOverrides, err)
	}
	defer f.Close()

	return LoadWorkOverrides(f)
}

// Apply merges the override for name into opts
func (w WorkOverrides) Apply(name string, opts WorkOptions) WorkOptions {
	override, ok := w[name]
	if !ok {
		return opts
	}
	return opts.Merge(override)
}
