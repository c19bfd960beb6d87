// Package maildir implements a directory-backed message store following the
// Maildir convention: one file per message under tmp/new/cur, crash-safe
// delivery via write-then-atomic-rename, flags encoded in the filename, and
// Maildir++ style subfolder naming.
//
// The store tolerates concurrent external mutation by other processes. A
// rename on a single filesystem is atomic, so outside readers only ever
// observe a file as absent or fully written, never half-written.
package maildir

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fenilsonani/mailstore/internal/logging"
	"github.com/fenilsonani/mailstore/internal/metrics"
)

// Options configures a store handle.
type Options struct {
	// Create builds the tmp/new/cur tree when absent instead of failing.
	Create bool

	// Lazy accepts index staleness up to LazyPeriod in exchange for never
	// stat-ing the subdirectories on every access. Correct only when no
	// concurrent writer outside this instance is expected within the window.
	Lazy bool

	// LazyPeriod bounds staleness in lazy mode. Defaults to 5 seconds.
	LazyPeriod time.Duration

	// Xattr enables the extended-attribute cache for content hashes and
	// delivery dates. Auto-disabled on the first attribute I/O failure.
	Xattr bool

	// FSLayout stores subfolders as literally nested directories instead of
	// Maildir++ separator-named siblings.
	FSLayout bool

	// Separator is the folder separator character for Maildir++ naming.
	// Defaults to ".". Ignored in FSLayout mode, which always uses "/".
	Separator string

	// Logger receives structured operation logs. Defaults to a discard
	// logger.
	Logger *logging.Logger
}

// Store is a handle on one maildir mailbox.
type Store struct {
	path    string
	subdirs map[Subdir]string

	// parentPath is the path of the enclosing mailbox when this store is a
	// subfolder, "" for a root store. Parents are referenced by path, not by
	// live handle; callers open them on demand.
	parentPath string

	opts   Options
	sep    string
	index  *keyIndex
	attrs  *attrCache
	logger *logging.Logger
}

// Open opens the maildir at path, validating that it contains a cur
// subdirectory. With opts.Create the tmp/new/cur tree is built with
// owner-only permissions when absent. The parent directory is probed as a
// maildir as well; an invalid parent just means this store is a root.
func Open(path string, opts Options) (*Store, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", path, err)
	}

	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	if opts.Separator == "" {
		opts.Separator = "."
	}
	sep := opts.Separator
	if opts.FSLayout {
		sep = "/"
	}

	subdirs := map[Subdir]string{
		SubdirTmp: filepath.Join(abs, string(SubdirTmp)),
		SubdirNew: filepath.Join(abs, string(SubdirNew)),
		SubdirCur: filepath.Join(abs, string(SubdirCur)),
	}

	fi, err := os.Stat(abs)
	switch {
	case err == nil:
		if !fi.IsDir() {
			return nil, &InvalidMaildirError{Path: abs, Reason: "not a directory"}
		}
		if !isMaildir(abs) && !opts.Create {
			return nil, &InvalidMaildirError{Path: abs, Reason: "directory missing maildir properties"}
		}
	case os.IsNotExist(err):
		if !opts.Create {
			return nil, &InvalidMaildirError{Path: abs, Reason: "path not found"}
		}
	default:
		return nil, fmt.Errorf("stat %s: %w", abs, err)
	}

	if opts.Create {
		for _, dir := range subdirs {
			if err := os.MkdirAll(dir, 0700); err != nil {
				return nil, fmt.Errorf("create %s: %w", dir, err)
			}
		}
	}

	parentPath := ""
	if pp := filepath.Dir(abs); pp != abs && isMaildir(pp) {
		parentPath = pp
	}

	s := &Store{
		path:       abs,
		subdirs:    subdirs,
		parentPath: parentPath,
		opts:       opts,
		sep:        sep,
		logger:     opts.Logger.Store().WithMailbox(abs),
	}
	s.index = newKeyIndex(subdirs, opts.Lazy, opts.LazyPeriod, opts.Logger)
	s.attrs = newAttrCache(opts.Xattr, opts.Logger)
	return s, nil
}

// isMaildir reports whether path is a directory containing a cur
// subdirectory.
func isMaildir(path string) bool {
	fi, err := os.Stat(filepath.Join(path, string(SubdirCur)))
	return err == nil && fi.IsDir()
}

// Path returns the absolute filesystem path of the mailbox.
func (s *Store) Path() string { return s.path }

// Keys returns the current message keys, refreshing the index when stale.
func (s *Store) Keys() ([]string, error) {
	return s.index.keys()
}

// Len returns the number of messages currently indexed.
func (s *Store) Len() (int, error) {
	keys, err := s.Keys()
	if err != nil {
		return 0, err
	}
	return len(keys), nil
}

// Contains reports whether a message with the given key exists. Unlike Get
// it has no promotion side effect.
func (s *Store) Contains(key string) (bool, error) {
	return s.index.contains(key)
}

// Get loads the message stored under key. A message still sitting in new is
// atomically promoted to cur before being returned, modeling delivery-seen
// semantics.
func (s *Store) Get(key string) (*Message, error) {
	return s.get(key, true)
}

// GetNoContent loads only the metadata of the message stored under key.
// Promotion still applies.
func (s *Store) GetNoContent(key string) (*Message, error) {
	return s.get(key, false)
}

func (s *Store) get(key string, loadContent bool) (*Message, error) {
	path, err := s.index.pathFor(key)
	if err != nil {
		return nil, err
	}
	msg, err := s.messageAtPath(path, loadContent)
	if err != nil {
		return nil, err
	}

	if msg.subdir == SubdirNew {
		msg.subdir = SubdirCur
		if _, err := s.Update(key, msg); err != nil {
			return nil, fmt.Errorf("promote %s: %w", key, err)
		}
		metrics.Promotions.Inc()
		s.logger.WithKey(key).Debug("promoted message to cur")

		path, err = s.index.pathFor(key)
		if err != nil {
			return nil, err
		}
		return s.messageAtPath(path, loadContent)
	}
	return msg, nil
}

// messageAtPath reconstructs a Message from the file at path. The key, info
// suffix, and subdirectory come from the path itself.
func (s *Store) messageAtPath(path string, loadContent bool) (*Message, error) {
	var content []byte
	if loadContent {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read message: %w", err)
		}
		content = b
	}

	fi, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat message: %w", err)
	}

	dir, name := filepath.Split(path)
	key, info := splitFilename(name)
	msg := &Message{
		key:     key,
		info:    info,
		subdir:  Subdir(filepath.Base(filepath.Clean(dir))),
		content: content,
		mtime:   fi.ModTime(),
	}

	if loadContent {
		s.attrs.annotate(msg, path)
	}
	metrics.MessagesRead.Inc()
	return msg, nil
}

// pathForMessage returns the canonical on-disk path for msg in this store.
func (s *Store) pathForMessage(msg *Message) string {
	return filepath.Join(s.path, string(msg.subdir), msg.Filename())
}

// writeMessage writes the message bytes to its canonical path, best-effort
// caches the content hash, and stamps the file mtime.
func (s *Store) writeMessage(msg *Message) (string, error) {
	path := s.pathForMessage(msg)
	if err := os.WriteFile(path, msg.content, 0600); err != nil {
		return "", fmt.Errorf("write message: %w", err)
	}

	s.attrs.storeHash(msg, path)

	if !msg.mtime.IsZero() {
		if err := os.Chtimes(path, msg.mtime, msg.mtime); err != nil {
			return "", fmt.Errorf("set mtime: %w", err)
		}
	}
	return path, nil
}

// Add delivers a fresh message: bytes land in tmp first, the key is
// registered, and the file is renamed into its destination. Messages without
// flags go to new; pre-flagged messages (or an explicit SubdirCur) go
// straight to cur. The final key is returned.
func (s *Store) Add(msg *Message) (string, error) {
	if msg.mtime.IsZero() {
		msg.mtime = time.Now()
	}

	dest := msg.subdir
	msg.subdir = SubdirTmp

	// Collision probability is near zero but not provably zero: re-check
	// against the index and re-roll until the key is unused.
	for {
		if msg.key == "" {
			msg.key = generateKey()
		}
		exists, err := s.index.contains(msg.key)
		if err != nil {
			return "", err
		}
		if !exists {
			break
		}
		metrics.KeyCollisions.Inc()
		s.logger.WithKey(msg.key).Debug("key collision, regenerating")
		msg.key = generateKey()
	}

	path, err := s.writeMessage(msg)
	if err != nil {
		metrics.RecordError("store", "write")
		return "", err
	}
	s.index.set(msg.key, path)

	if dest == SubdirCur || msg.Flags() != "" {
		msg.subdir = SubdirCur
	} else {
		msg.subdir = SubdirNew
	}

	key, err := s.Update(msg.key, msg)
	if err != nil {
		return "", err
	}
	metrics.MessagesAdded.Inc()
	s.logger.WithKey(key).Debug("message delivered", "subdir", string(msg.subdir))
	return key, nil
}

// Update reconciles the on-disk file under key with msg. A changed canonical
// filename causes a single atomic rename; the file is never momentarily
// absent from a directory listing. Content is rewritten only when the file
// statistics suggest divergence and a byte comparison confirms it, so
// flag-only and mtime-only updates never rewrite message bytes.
func (s *Store) Update(key string, msg *Message) (string, error) {
	oldPath, err := s.index.pathFor(key)
	if err != nil {
		return "", err
	}

	newPath := s.pathForMessage(msg)
	if newPath != oldPath {
		if err := os.Rename(oldPath, newPath); err != nil {
			metrics.RecordError("store", "rename")
			return "", fmt.Errorf("rename %s: %w", key, err)
		}
		s.index.set(msg.key, newPath)
		if msg.key != key {
			s.index.evict(key)
		}
		s.index.touch()
	}

	// Metadata-only handles (content never loaded) stop here.
	if msg.content == nil {
		return msg.key, nil
	}

	st, err := os.Stat(newPath)
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", key, err)
	}
	if st.Size() != int64(len(msg.content)) || (!msg.mtime.IsZero() && !st.ModTime().Equal(msg.mtime)) {
		onDisk, err := os.ReadFile(newPath)
		if err != nil {
			return "", fmt.Errorf("verify %s: %w", key, err)
		}
		if !bytes.Equal(onDisk, msg.content) {
			if _, err := s.writeMessage(msg); err != nil {
				return "", err
			}
		} else if !msg.mtime.IsZero() {
			if err := os.Chtimes(newPath, msg.mtime, msg.mtime); err != nil {
				return "", fmt.Errorf("set mtime %s: %w", key, err)
			}
		}
	}
	return msg.key, nil
}

// Remove deletes the message stored under key.
func (s *Store) Remove(key string) error {
	path, err := s.index.pathFor(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		metrics.RecordError("store", "remove")
		return fmt.Errorf("remove %s: %w", key, err)
	}
	s.index.evict(key)
	metrics.MessagesRemoved.Inc()
	s.logger.WithKey(key).Debug("message removed")
	return nil
}

// Move renames the message file directly into dst's new subdirectory,
// bypassing tmp staging. Source and destination are assumed to share a
// filesystem; a cross-device rename failure is fatal for the call. The
// destination discovers the message on its next refresh.
func (s *Store) Move(key string, dst *Store) error {
	srcPath, err := s.index.pathFor(key)
	if err != nil {
		return err
	}
	dstPath := filepath.Join(dst.subdirs[SubdirNew], filepath.Base(srcPath))
	if err := os.Rename(srcPath, dstPath); err != nil {
		metrics.RecordError("store", "move")
		return fmt.Errorf("move %s: %w", key, err)
	}
	s.index.evict(key)
	metrics.MessagesMoved.Inc()
	s.logger.WithKey(key).Debug("message moved", "dest", dst.path)
	return nil
}

// Enumerate loads every message in the mailbox, walking tmp, new, and cur
// directly without consulting the index. Files that vanish mid-walk are
// skipped. With loadContent false only metadata is populated.
func (s *Store) Enumerate(loadContent bool) ([]*Message, error) {
	var msgs []*Message
	for _, subdir := range []Subdir{SubdirTmp, SubdirNew, SubdirCur} {
		dir := s.subdirs[subdir]
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("scan %s: %w", dir, err)
		}
		for _, entry := range entries {
			name := entry.Name()
			if !entry.Type().IsRegular() || len(name) == 0 || name[0] == '.' {
				continue
			}
			msg, err := s.messageAtPath(filepath.Join(dir, name), loadContent)
			if err != nil {
				continue
			}
			msgs = append(msgs, msg)
		}
	}
	return msgs, nil
}
