package scanner

import (
	"os"
	"path/filepath"
	"slices"

	"github.com/riadafridishibly/dirsize/api"
)

// ListDirectory reads root/rel straight from disk. Directories take their
// size from the tree (zero until the walk gets there); files are sized by
// lstat. Entries that vanish between readdir and lstat are left out.
//
// A partial listing is returned together with the read error.
func ListDirectory(root string, rel []string, tree *Tree) ([]api.Entry, error) {
	dir := filepath.Join(append([]string{root}, rel...)...)

	dirEntries, err := os.ReadDir(dir)
	entries := make([]api.Entry, 0, len(dirEntries))
	for _, d := range dirEntries {
		path := append(slices.Clip(rel), d.Name())

		if d.IsDir() {
			entries = append(entries, tree.EntryAt(path))
			continue
		}

		info, infoErr := d.Info()
		if infoErr != nil {
			continue
		}
		entries = append(entries, api.FileEntry(path, uint64(info.Size())))
	}
	return entries, err
}

// Breadcrumbs are the entries from the root down to path itself, so the
// root alone yields one entry.
func Breadcrumbs(path []string, tree *Tree) []api.Entry {
	crumbs := make([]api.Entry, 0, len(path)+1)
	for i := 0; i <= len(path); i++ {
		crumbs = append(crumbs, tree.EntryAt(path[:i:i]))
	}
	return crumbs
}
