// Package json wraps goccy/go-json for the metadata files written by the
// table backends: manifests, commit logs and index descriptors.
package json

import (
	"io"
	"os"
	"path/filepath"

	"github.com/ajitpratap0/tabular/pkg/pool"
	gojson "github.com/goccy/go-json"
)

var buffers = pool.NewBuffers(4096)

// Marshal is a drop-in replacement for encoding/json.Marshal
func Marshal(v interface{}) ([]byte, error) {
	return gojson.Marshal(v)
}

// Unmarshal is a drop-in replacement for encoding/json.Unmarshal
func Unmarshal(data []byte, v interface{}) error {
	return gojson.Unmarshal(data, v)
}

// MarshalIndent is a drop-in replacement for encoding/json.MarshalIndent
func MarshalIndent(v interface{}, prefix, indent string) ([]byte, error) {
	return gojson.MarshalIndent(v, prefix, indent)
}

// MarshalLine encodes v as a single newline-terminated line, the unit of
// append-only logs.
func MarshalLine(v interface{}) ([]byte, error) {
	buf := buffers.Get()
	defer buffers.Put(buf)

	enc := gojson.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return pool.Detach(buf), nil
}

// NewDecoder returns a streaming decoder over r
func NewDecoder(r io.Reader) *gojson.Decoder {
	return gojson.NewDecoder(r)
}

// WriteFileAtomic writes v as indented JSON to a temporary file, syncs it
// and renames it over path.
func WriteFileAtomic(path string, v interface{}) error {
	data, err := MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp*")
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
	return os.Rename(tmp.Name(), path)
}

// ReadFile decodes the JSON file at path into v
func ReadFile(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return Unmarshal(data, v)
}
