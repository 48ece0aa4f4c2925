package database

import (
	"path/filepath"
	"strings"

	"github.com/shirou/gopsutil/v3/disk"
)

// weakLockingFSPrefixes lists filesystem type prefixes with unreliable POSIX
// advisory locking. SQLite's WAL mode depends on shared-memory coordination
// that silently breaks on these mounts.
var weakLockingFSPrefixes = []string{
	"nfs",
	"cifs",
	"smb",
	"fuse",
	"sshfs",
	"9p",
}

// weakLockingFilesystem reports the filesystem type backing dir and whether
// it is known to have unreliable locking. Detection failures are treated as
// a regular local filesystem.
func weakLockingFilesystem(dir string) (string, bool) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", false
	}

	partitions, err := disk.Partitions(true)
	if err != nil {
		return "", false
	}

	// Longest mountpoint that is a path prefix of the directory wins.
	var mountpoint, fstype string
	for _, p := range partitions {
		if !mountCovers(p.Mountpoint, abs) {
			continue
		}
		if len(p.Mountpoint) > len(mountpoint) {
			mountpoint = p.Mountpoint
			fstype = p.Fstype
		}
	}
	if fstype == "" {
		return "", false
	}

	lower := strings.ToLower(fstype)
	for _, weak := range weakLockingFSPrefixes {
		if strings.HasPrefix(lower, weak) {
			return fstype, true
		}
	}
	return fstype, false
}

// mountCovers reports whether path lives under the given mountpoint.
func mountCovers(mountpoint, path string) bool {
	if mountpoint == "" {
		return false
	}
	if mountpoint == "/" || mountpoint == path {
		return true
	}
	return strings.HasPrefix(path, strings.TrimSuffix(mountpoint, "/")+"/")
}
