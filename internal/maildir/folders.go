package maildir

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
)

// IsSubfolder reports whether this store sits inside another maildir.
func (s *Store) IsSubfolder() bool {
	return s.parentPath != ""
}

// Name returns the virtual path of this folder: "/" for a root store, the
// separator-translated directory basename for a subfolder.
func (s *Store) Name() string {
	if !s.IsSubfolder() {
		return "/"
	}
	return s.pathToVPath(s.path)
}

// pathToVPath converts a filesystem path to a virtual folder path by
// translating the separator character in the final segment.
func (s *Store) pathToVPath(path string) string {
	return strings.ReplaceAll(filepath.Base(path), s.sep, "/")
}

// vpathToPath converts a virtual folder path to a filesystem path. Maildir++
// subfolders are siblings of their parent directory, so the result anchors at
// the parent's path when this store is itself a subfolder.
func (s *Store) vpathToPath(vpath string) string {
	anchor := s.path
	if s.IsSubfolder() {
		anchor = s.parentPath
	}

	// Forward slashes and colons are not valid inside folder directory
	// names; both map to the separator.
	name := strings.ReplaceAll(vpath, "/", s.sep)
	name = strings.ReplaceAll(name, ":", s.sep)

	// Never allow a leading slash in the directory name. Only reachable in
	// fs-layout mode, where the separator itself is "/".
	name = strings.TrimPrefix(name, "/")

	// All Maildir++ folder directory names begin with a period.
	if !s.opts.FSLayout && !strings.HasPrefix(name, ".") {
		name = "." + name
	}

	return filepath.Join(anchor, name)
}

// ListFolders returns the virtual paths of this folder and every sibling or
// descendant directory that validates as a maildir. The prefix check, rather
// than a strict leading-period check, also recognizes Dovecot fs-layout
// nesting.
func (s *Store) ListFolders() ([]string, error) {
	folders := []string{s.Name()}

	anchor := s.path
	folderRoot := s.path
	if s.IsSubfolder() {
		anchor = s.parentPath
		if !s.opts.FSLayout {
			folderRoot = s.path + s.sep
		}
	}

	entries, err := os.ReadDir(anchor)
	if err != nil {
		return nil, err
	}
	for _, entry := range entries {
		path := filepath.Join(anchor, entry.Name())
		if !strings.HasPrefix(path, folderRoot) {
			continue
		}
		if !entry.IsDir() || !isMaildir(path) {
			continue
		}
		folders = append(folders, s.pathToVPath(path))
	}
	return folders, nil
}

// Folder opens the subfolder at the given virtual path. The empty path and
// "/" refer to this store itself. A path that does not resolve to a valid
// maildir yields a NoSuchFolderError.
func (s *Store) Folder(vpath string) (*Store, error) {
	if vpath == "" || vpath == "/" {
		return s, nil
	}

	opts := s.opts
	opts.Create = false
	folder, err := Open(s.vpathToPath(vpath), opts)
	if err != nil {
		return nil, &NoSuchFolderError{VPath: vpath, Err: err}
	}
	return folder, nil
}

// CreateFolder opens the subfolder at the given virtual path, creating it
// when absent. Idempotent: an existing folder is returned as is.
func (s *Store) CreateFolder(vpath string) (*Store, error) {
	folder, err := s.Folder(vpath)
	if err == nil {
		return folder, nil
	}
	if !errors.Is(err, ErrNoSuchFolder) {
		return nil, err
	}

	opts := s.opts
	opts.Create = true
	folder, err = Open(s.vpathToPath(vpath), opts)
	if err != nil {
		return nil, err
	}
	s.logger.Info("folder created", "vpath", vpath, "path", folder.path)
	return folder, nil
}
