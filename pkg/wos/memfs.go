package wos

import "github.com/cockroachdb/pebble/vfs"

func pebbleMemFS() vfs.FS {
	return vfs.NewMem()
}
