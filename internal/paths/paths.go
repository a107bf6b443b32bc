// Package paths is the on-disk layout under ~/.chatsync.
package paths

import (
	"os"
	"path/filepath"
)

// HomeEnv overrides the base directory.
const HomeEnv = "CHATSYNC_HOME"

// BaseDir returns $CHATSYNC_HOME or ~/.chatsync.
func BaseDir() string {
	if dir := os.Getenv(HomeEnv); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".chatsync")
}

// ConfigPath returns the global config file path.
func ConfigPath() string {
	return filepath.Join(BaseDir(), "config.toml")
}

// ProfileDir returns the directory of a client profile.
func ProfileDir(name string) string {
	return filepath.Join(BaseDir(), "profiles", name)
}

// SessionFile returns the persisted sign-in of a profile.
func SessionFile(name string) string {
	return filepath.Join(ProfileDir(name), "session.json")
}

// ClientLogPath returns the log file of the terminal client for a profile.
func ClientLogPath(name string) string {
	return filepath.Join(ProfileDir(name), "logs", "chattui.log")
}

// DaemonDir returns the daemon data directory.
func DaemonDir() string {
	return filepath.Join(BaseDir(), "daemon")
}

// SocketPath returns the daemon's unix socket.
func SocketPath() string {
	return filepath.Join(DaemonDir(), "chatsyncd.sock")
}

// LockPath returns the daemon lock file path.
func LockPath() string {
	return filepath.Join(DaemonDir(), "LOCK")
}

// StorePath returns the SQLite document store.
func StorePath() string {
	return filepath.Join(DaemonDir(), "store.db")
}

// BlobDir returns where attachments live without an object store.
func BlobDir() string {
	return filepath.Join(DaemonDir(), "blobs")
}

// DaemonLogPath returns the daemon log file path.
func DaemonLogPath() string {
	return filepath.Join(DaemonDir(), "logs", "chatsyncd.log")
}

// EnsureDir creates dirs with owner-only permissions.
func EnsureDir(dirs ...string) error {
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
