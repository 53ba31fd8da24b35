package main

import (
	"errors"
	"io/fs"
	"strings"
)

// SPAFileSystem wraps another FileSystem, but returns a specified page instead of 404
type SPAFileSystem struct {
	index string
	fs.FS
}

func NewSPAFileSystem(parent fs.FS, index string) SPAFileSystem {
	return SPAFileSystem{
		FS:    parent,
		index: index,
	}
}

// Open is a wrapper around the Open method of the embedded FileSystem
// that serves a permission error when name has a file or directory
// whose name starts with a period in its path.
func (s SPAFileSystem) Open(name string) (fs.File, error) {
	for _, part := range strings.Split(name, "/") {
		if strings.HasPrefix(part, ".") && part != "." {
			return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrPermission}
		}
	}

	file, err := s.FS.Open(name)

	// if the path was not found, return spa index
	if errors.Is(err, fs.ErrNotExist) {
		return s.FS.Open(s.index)
	} else if err != nil {
		return nil, err
	}

	return file, nil
}
