// Package lock keeps a single dmd per profile. The lock file lives in the
// profile directory and records the serving daemon's pid.
package lock

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// FileName is the lock file inside a profile directory.
const FileName = "dmd.lock"

// HeldError is returned by Acquire when another dmd serves the profile.
type HeldError struct {
	Profile string
	PID     int
	Path    string
}

func (e *HeldError) Error() string {
	if e.PID == 0 {
		return fmt.Sprintf("profile %q is already served by another dmd (%s)", e.Profile, e.Path)
	}
	return fmt.Sprintf("profile %q is already served by dmd pid %d (%s)", e.Profile, e.PID, e.Path)
}

// Lock is a held profile lock.
type Lock struct {
	file *os.File
	path string
}

// Acquire takes the lock for the profile stored in profileDir, creating the
// directory if needed.
func Acquire(profileDir string) (*Lock, error) {
	if err := os.MkdirAll(profileDir, 0700); err != nil {
		return nil, fmt.Errorf("create profile dir: %w", err)
	}
	path := filepath.Join(profileDir, FileName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	if !tryLock(f) {
		_ = f.Close()
		return nil, &HeldError{Profile: filepath.Base(profileDir), PID: readPID(path), Path: path}
	}
	if err := writeOwner(f, filepath.Base(profileDir)); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("write lock file: %w", err)
	}
	return &Lock{file: f, path: path}, nil
}

func tryLock(f *os.File) bool {
	return syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB) == nil
}

func writeOwner(f *os.File, profileName string) error {
	if err := f.Truncate(0); err != nil {
		return err
	}
	if _, err := f.Seek(0, 0); err != nil {
		return err
	}
	_, err := fmt.Fprintf(f, "pid=%d\nprofile=%s\nstarted=%s\n",
		os.Getpid(), profileName, time.Now().UTC().Format(time.RFC3339))
	return err
}

// Release drops the lock and removes the file. It is safe on a nil or
// already released lock.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	_ = os.Remove(l.path)
	err := l.file.Close()
	l.file = nil
	return err
}

// Holder reports whether a dmd currently serves the profile in profileDir,
// and its pid when recorded.
func Holder(profileDir string) (pid int, ok bool) {
	path := filepath.Join(profileDir, FileName)
	f, err := os.OpenFile(path, os.O_RDWR, 0600)
	if err != nil {
		return 0, false
	}
	defer f.Close()
	if tryLock(f) {
		// Stale file from a daemon that died without releasing.
		_ = syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		return 0, false
	}
	return readPID(path), true
}

func readPID(path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	for _, line := range strings.Split(string(data), "\n") {
		if v, ok := strings.CutPrefix(line, "pid="); ok {
			pid, _ := strconv.Atoi(v)
			return pid
		}
	}
	return 0
}
