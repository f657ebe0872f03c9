// Package dataio implements Otto's inter-task data-passing protocol: task
// outputs are flat string-keyed JSON objects written atomically to
// <task>.output.json, and a dependent reads them back through
// <dep>.input.json symlinks the workspace layer maintains. This package is
// the Go-side counterpart to the otto_set_output/otto_get_input helpers the
// generated scripts call directly; the app's task runner uses it to write
// an empty output file for a successful task whose script wrote none.
package dataio

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// Output is the flat string map a task's epilogue produces.
type Output map[string]string

// WriteOutput serializes data to path atomically: write to a sibling temp
// file, then rename, so a concurrent reader never observes a partial file.
func WriteOutput(path string, data Output) error {
	if data == nil {
		data = Output{}
	}
	tmp := path + ".tmp"
	b, err := json.Marshal(data)
	if err != nil {
		return errors.Wrap(err, "marshaling output")
	}
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return errors.Wrapf(err, "writing %s", tmp)
	}
	if err := os.Rename(tmp, path); err != nil {
		return errors.Wrapf(err, "renaming %s to %s", tmp, path)
	}
	return nil
}

// ReadOutput reads and validates a task's output file. A missing file is
// not an error: tasks that produce no output never write one, and
// dependents see an empty map.
func ReadOutput(path string) (Output, error) {
	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Output{}, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", path)
	}
	var out Output
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, errors.Wrapf(err, "parsing %s as flat JSON object", path)
	}
	return out, nil
}

// LoadNamespaced reads every dep's input symlink in taskDir and returns the
// merged, dep-prefixed view ("<dep>.<key>" -> value) that otto_get_input
// and otto_deserialize_input present to scripts.
func LoadNamespaced(taskDir string, depNames []string) (map[string]string, error) {
	merged := map[string]string{}
	for _, dep := range depNames {
		path := filepath.Join(taskDir, dep+".input.json")
		out, err := ReadOutput(path)
		if err != nil {
			return nil, err
		}
		for k, v := range out {
			merged[dep+"."+k] = v
		}
	}
	return merged, nil
}
