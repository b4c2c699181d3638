package statefile

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// Load decodes the JSON file at path into dst. A missing file is not an
// error; found reports whether anything was read.
func Load(path string, dst any) (found bool, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return true, fmt.Errorf("decode %s: %w", path, err)
	}
	return true, nil
}

// Save writes v as indented JSON. The file is replaced atomically so a crash
// mid-write leaves the previous state intact.
func Save(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

// Document is an open JSON object. Monitors keep their own fields in it next
// to the reserved keys written by the framework.
type Document map[string]json.RawMessage

func (d Document) Has(key string) bool {
	_, ok := d[key]
	return ok
}

// Get decodes key into dst and reports whether the key was present.
func (d Document) Get(key string, dst any) (bool, error) {
	raw, ok := d[key]
	if !ok || len(raw) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return true, fmt.Errorf("state field %q: %w", key, err)
	}
	return true, nil
}

func (d Document) Set(key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("state field %q: %w", key, err)
	}
	d[key] = raw
	return nil
}

// Init sets every default whose key is not already present.
func (d Document) Init(defaults map[string]any) error {
	for k, v := range defaults {
		if d.Has(k) {
			continue
		}
		if err := d.Set(k, v); err != nil {
			return err
		}
	}
	return nil
}

func (d Document) Delete(key string) {
	delete(d, key)
}
