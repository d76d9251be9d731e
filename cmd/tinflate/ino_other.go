//go:build !unix

package main

import "io/fs"

// fileID has no portable inode notion outside unix; ls falls back to
// size-only output.
func fileID(info fs.FileInfo) (uint64, bool) {
	return 0, false
}
