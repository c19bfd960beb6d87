package maildir

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T, opts Options) *Store {
	t.Helper()
	opts.Create = true
	store, err := Open(filepath.Join(t.TempDir(), "box"), opts)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	return store
}

func TestOpenCreatesLayout(t *testing.T) {
	store := newTestStore(t, Options{})

	for _, subdir := range []string{"tmp", "new", "cur"} {
		path := filepath.Join(store.Path(), subdir)
		fi, err := os.Stat(path)
		if err != nil {
			t.Fatalf("missing subdir %s: %v", subdir, err)
		}
		if !fi.IsDir() {
			t.Errorf("%s is not a directory", subdir)
		}
		if perm := fi.Mode().Perm(); perm != 0700 {
			t.Errorf("%s has permissions %o, want 0700", subdir, perm)
		}
	}
}

func TestOpenValidation(t *testing.T) {
	tmp := t.TempDir()

	// Missing path without create.
	if _, err := Open(filepath.Join(tmp, "absent"), Options{}); !errors.Is(err, ErrInvalidMaildir) {
		t.Errorf("Open(absent) = %v, want ErrInvalidMaildir", err)
	}

	// Existing directory without maildir structure.
	plain := filepath.Join(tmp, "plain")
	if err := os.Mkdir(plain, 0700); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(plain, Options{}); !errors.Is(err, ErrInvalidMaildir) {
		t.Errorf("Open(plain dir) = %v, want ErrInvalidMaildir", err)
	}

	// Path is a regular file.
	file := filepath.Join(tmp, "file")
	if err := os.WriteFile(file, []byte("x"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(file, Options{Create: true}); !errors.Is(err, ErrInvalidMaildir) {
		t.Errorf("Open(file) = %v, want ErrInvalidMaildir", err)
	}
}

func TestAddGetRoundTrip(t *testing.T) {
	store := newTestStore(t, Options{})
	content := []byte("Subject: hi\r\n\r\nhello\r\n")

	key, err := store.Add(NewMessage(content))
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	// Unflagged delivery lands in new under the bare key.
	if _, err := os.Stat(filepath.Join(store.Path(), "new", key)); err != nil {
		t.Fatalf("delivered file not in new: %v", err)
	}

	msg, err := store.Get(key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !bytes.Equal(msg.Content(), content) {
		t.Errorf("content mismatch: got %q, want %q", msg.Content(), content)
	}
}

func TestPromotionOnRead(t *testing.T) {
	store := newTestStore(t, Options{})

	key, err := store.Add(NewMessage([]byte("hello")))
	if err != nil {
		t.Fatal(err)
	}

	msg, err := store.Get(key)
	if err != nil {
		t.Fatal(err)
	}
	if msg.Subdir() != SubdirCur {
		t.Errorf("first Get returned subdir %s, want cur", msg.Subdir())
	}
	if _, err := os.Stat(filepath.Join(store.Path(), "cur", key+":2,")); err != nil {
		t.Errorf("promoted file not in cur: %v", err)
	}
	if _, err := os.Stat(filepath.Join(store.Path(), "new", key)); !os.IsNotExist(err) {
		t.Error("file still present in new after promotion")
	}

	again, err := store.Get(key)
	if err != nil {
		t.Fatal(err)
	}
	if again.Subdir() != SubdirCur {
		t.Errorf("second Get returned subdir %s, want cur", again.Subdir())
	}
}

func TestAddWithFlagsGoesToCur(t *testing.T) {
	store := newTestStore(t, Options{})

	msg := NewMessage([]byte("hello"))
	msg.SetFlags("FS")
	key, err := store.Add(msg)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := os.Stat(filepath.Join(store.Path(), "cur", key+":2,FS")); err != nil {
		t.Errorf("flagged delivery not in cur: %v", err)
	}
}

func TestAddRegeneratesCollidingKeys(t *testing.T) {
	store := newTestStore(t, Options{})

	first := NewMessage([]byte("one"))
	key1, err := store.Add(first)
	if err != nil {
		t.Fatal(err)
	}

	second := NewMessage([]byte("two"))
	second.SetKey(key1)
	key2, err := store.Add(second)
	if err != nil {
		t.Fatal(err)
	}

	if key1 == key2 {
		t.Fatalf("colliding add reused key %q", key1)
	}
	if n, _ := store.Len(); n != 2 {
		t.Errorf("Len() = %d, want 2", n)
	}
}

func TestUpdateRenamesWithoutRewrite(t *testing.T) {
	store := newTestStore(t, Options{})
	content := []byte("hello")

	key, err := store.Add(NewMessage(content))
	if err != nil {
		t.Fatal(err)
	}
	msg, err := store.Get(key)
	if err != nil {
		t.Fatal(err)
	}

	msg.AddFlags("S")
	if _, err := store.Update(key, msg); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	newPath := filepath.Join(store.Path(), "cur", key+":2,S")
	onDisk, err := os.ReadFile(newPath)
	if err != nil {
		t.Fatalf("renamed file missing: %v", err)
	}
	if !bytes.Equal(onDisk, content) {
		t.Errorf("content changed by flag rename: %q", onDisk)
	}
	if _, err := os.Stat(filepath.Join(store.Path(), "cur", key+":2,")); !os.IsNotExist(err) {
		t.Error("old filename still present after rename")
	}
}

func TestUpdateRewritesChangedContent(t *testing.T) {
	store := newTestStore(t, Options{})

	key, err := store.Add(NewMessage([]byte("short")))
	if err != nil {
		t.Fatal(err)
	}
	msg, err := store.Get(key)
	if err != nil {
		t.Fatal(err)
	}

	replacement := []byte("a considerably longer body")
	msg.SetContent(replacement)
	if _, err := store.Update(key, msg); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	got, err := store.Get(key)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got.Content(), replacement) {
		t.Errorf("content not rewritten: %q", got.Content())
	}
}

func TestUpdateFixesModTimeOnly(t *testing.T) {
	store := newTestStore(t, Options{})

	key, err := store.Add(NewMessage([]byte("hello")))
	if err != nil {
		t.Fatal(err)
	}
	msg, err := store.Get(key)
	if err != nil {
		t.Fatal(err)
	}

	want := time.Date(2019, 3, 4, 5, 6, 7, 0, time.UTC)
	msg.SetModTime(want)
	if _, err := store.Update(key, msg); err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(store.Path(), "cur", key+":2,")
	fi, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if !fi.ModTime().Equal(want) {
		t.Errorf("mtime = %v, want %v", fi.ModTime(), want)
	}
}

func TestRemove(t *testing.T) {
	store := newTestStore(t, Options{})

	key, err := store.Add(NewMessage([]byte("hello")))
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Remove(key); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}

	if _, err := store.Get(key); !errors.Is(err, ErrUnknownKey) {
		t.Errorf("Get after Remove = %v, want ErrUnknownKey", err)
	}
	if ok, _ := store.Contains(key); ok {
		t.Error("Contains reports removed key")
	}
}

func TestMove(t *testing.T) {
	tmp := t.TempDir()
	src, err := Open(filepath.Join(tmp, "src"), Options{Create: true})
	if err != nil {
		t.Fatal(err)
	}
	dst, err := Open(filepath.Join(tmp, "dst"), Options{Create: true})
	if err != nil {
		t.Fatal(err)
	}

	content := []byte("hello")
	key, err := src.Add(NewMessage(content))
	if err != nil {
		t.Fatal(err)
	}

	if err := src.Move(key, dst); err != nil {
		t.Fatalf("Move failed: %v", err)
	}

	if ok, _ := src.Contains(key); ok {
		t.Error("source still contains moved key")
	}

	// The destination discovers the message via a point lookup.
	msg, err := dst.Get(key)
	if err != nil {
		t.Fatalf("Get on destination failed: %v", err)
	}
	if !bytes.Equal(msg.Content(), content) {
		t.Errorf("moved content mismatch: %q", msg.Content())
	}
}

func TestEnumerate(t *testing.T) {
	store := newTestStore(t, Options{})

	if _, err := store.Add(NewMessage([]byte("one"))); err != nil {
		t.Fatal(err)
	}
	flagged := NewMessage([]byte("two"))
	flagged.SetFlags("S")
	if _, err := store.Add(flagged); err != nil {
		t.Fatal(err)
	}

	msgs, err := store.Enumerate(true)
	if err != nil {
		t.Fatalf("Enumerate failed: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("Enumerate returned %d messages, want 2", len(msgs))
	}
	for _, msg := range msgs {
		if len(msg.Content()) == 0 {
			t.Errorf("message %s has no content", msg.Key())
		}
	}

	metaOnly, err := store.Enumerate(false)
	if err != nil {
		t.Fatal(err)
	}
	for _, msg := range metaOnly {
		if msg.Content() != nil {
			t.Errorf("message %s has content despite loadContent=false", msg.Key())
		}
	}
}

func TestGetNoContentDoesNotRewrite(t *testing.T) {
	store := newTestStore(t, Options{})
	content := []byte("hello")

	key, err := store.Add(NewMessage(content))
	if err != nil {
		t.Fatal(err)
	}

	// Metadata-only read still promotes but must leave bytes alone.
	msg, err := store.GetNoContent(key)
	if err != nil {
		t.Fatal(err)
	}
	if msg.Subdir() != SubdirCur {
		t.Errorf("subdir = %s, want cur", msg.Subdir())
	}

	full, err := store.Get(key)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(full.Content(), content) {
		t.Errorf("content damaged by metadata-only read: %q", full.Content())
	}
}
