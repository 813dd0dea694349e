// Package sys routes all file operations of the persistence layer through
// swappable handlers. Tests replace a handler to inject I/O failures or to
// simulate a crash between two steps of a multi-file protocol; production
// code never touches them.
package sys

import (
	"io"
	"os"
)

// FileHandle is the subset of *os.File the persistence layer relies on.
type FileHandle interface {
	io.Reader
	io.Writer
	io.Closer
	io.Seeker

	Stat() (os.FileInfo, error)
	Sync() error
	Truncate(size int64) error
	Name() string
}

type (
	CreateHandler   func(name string) (FileHandle, error)
	OpenHandler     func(name string) (FileHandle, error)
	OpenFileHandler func(name string, flag int, perm os.FileMode) (FileHandle, error)
	RenameHandler   func(oldpath, newpath string) error
	RemoveHandler   func(name string) error
	LinkHandler     func(oldname, newname string) error
)

var (
	Create   CreateHandler   = defaultCreate
	Open     OpenHandler     = defaultOpen
	OpenFile OpenFileHandler = defaultOpenFile
	Rename   RenameHandler   = os.Rename
	Remove   RemoveHandler   = os.Remove
	Link     LinkHandler     = os.Link
)

// Reset restores every handler to its OS-backed default. Tests that swap a
// handler should defer a call to Reset.
func Reset() {
	Create = defaultCreate
	Open = defaultOpen
	OpenFile = defaultOpenFile
	Rename = os.Rename
	Remove = os.Remove
	Link = os.Link
}

func defaultCreate(name string) (FileHandle, error) {
	f, err := os.Create(name)
	if err != nil {
		return nil, err
	}
	return f, nil
}

func defaultOpen(name string) (FileHandle, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	return f, nil
}

func defaultOpenFile(name string, flag int, perm os.FileMode) (FileHandle, error) {
	f, err := os.OpenFile(name, flag, perm)
	if err != nil {
		return nil, err
	}
	return f, nil
}
