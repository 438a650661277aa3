package columngroup

import (
	"net/url"
	"os"
	"path/filepath"

	"github.com/ajitpratap0/tabular/pkg/schema"
	"gopkg.in/yaml.v3"
)

const (
	attrsFile = "attrs.yaml"
	colSuffix = ".col"

	// MarkerFile identifies a container directory of column groups.
	MarkerFile = ".columngroup"
)

// attrs is the persisted attribute set of a group. NRows is the committed
// row count; it is absent in groups written by tools that only grow the
// column files, in which case the count is inferred from the file sizes.
type attrs struct {
	Columns  []schema.Field `yaml:"columns"`
	NRows    *int64         `yaml:"nrows,omitempty"`
	NRowsMax int64          `yaml:"nrows_max,omitempty"`
}

func readAttrs(dir string) (attrs, error) {
	var a attrs
	data, err := os.ReadFile(filepath.Join(dir, attrsFile))
	if err != nil {
		return a, err
	}
	err = yaml.Unmarshal(data, &a)
	return a, err
}

// writeAttrs replaces the attribute file atomically.
func writeAttrs(dir string, a attrs) error {
	data, err := yaml.Marshal(&a)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, attrsFile+".tmp*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), filepath.Join(dir, attrsFile))
}

func columnPath(dir, column string) string {
	return filepath.Join(dir, url.PathEscape(column)+colSuffix)
}
