package registry

import "os"

// Resource is something a session owns that must be disposed when the
// session ends: temp files, scratch directories, open handles.
type Resource interface {
	Release() error
}

// PathResource removes a file or directory tree on release. Releasing a
// path that is already gone succeeds, so disposal stays idempotent.
type PathResource string

func (p PathResource) Release() error {
	return os.RemoveAll(string(p))
}

// ReleaseFunc adapts a function to the Resource interface.
type ReleaseFunc func() error

func (f ReleaseFunc) Release() error {
	return f()
}
