package workspace

import (
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// RunYAML is a small, redundant, inspectable run summary written
// alongside the relational state store, kept for inspectability and as
// a fallback when the store is unavailable.
type RunYAML struct {
	Timestamp   int64    `yaml:"timestamp"`
	ProjectHash string   `yaml:"project_hash"`
	Ottofile    string   `yaml:"ottofile"`
	Cwd         string   `yaml:"cwd"`
	User        string   `yaml:"user"`
	Host        string   `yaml:"host"`
	Args        []string `yaml:"args"`
}

// WriteRunYAML serializes meta to <run-dir>/run.yaml atomically: written to
// a uniquely-named sibling temp file first, then renamed into place, so a
// concurrent reader never observes a partial file. The temp suffix is a UUID rather than a fixed
// ".tmp" name so two otto processes racing on the same run directory (a
// rare but possible outcome of the timestamp-bump in Create) never collide
// on the same temp path.
func (l *Layout) WriteRunYAML(meta RunYAML) error {
	data, err := yaml.Marshal(meta)
	if err != nil {
		return errors.Wrap(err, "marshaling run.yaml")
	}
	path := filepath.Join(l.RunDir, "run.yaml")
	tmp := path + "." + uuid.NewString() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.Wrapf(err, "writing %s", tmp)
	}
	if err := os.Rename(tmp, path); err != nil {
		return errors.Wrapf(err, "renaming %s to %s", tmp, path)
	}
	return nil
}
