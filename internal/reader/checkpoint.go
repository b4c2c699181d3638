package reader

import (
	"crypto/md5"
	"encoding/hex"
	"path/filepath"
	"sort"
)

// Checkpoints records which working paths have already been snapshotted
// during one scan, and the files each produced. The scheduler creates one per
// scan and hands it to every reader so a source shared by several readers is
// only moved once.
type Checkpoints struct {
	files map[string][]string
}

func NewCheckpoints() *Checkpoints {
	return &Checkpoints{files: make(map[string][]string)}
}

func (c *Checkpoints) lookup(work string) ([]string, bool) {
	files, ok := c.files[work]
	return files, ok
}

func (c *Checkpoints) record(work string, files []string) {
	c.files[work] = append([]string(nil), files...)
}

// Paths returns the claimed working paths, sorted.
func (c *Checkpoints) Paths() []string {
	out := make([]string, 0, len(c.files))
	for p := range c.files {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// WorkPath derives the snapshot location of src under tempRoot. It depends
// only on the source path so every reader and every run agree on it.
func WorkPath(tempRoot, src string) string {
	sum := md5.Sum([]byte(src))
	return filepath.Join(tempRoot, hex.EncodeToString(sum[:]))
}
