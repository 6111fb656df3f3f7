package blob

import "watershed/internal/infra/blob/fs"

// NewFilesystem returns a store rooted at the directory root.
func NewFilesystem(root string) (Store, error) {
	return fs.New(root)
}
