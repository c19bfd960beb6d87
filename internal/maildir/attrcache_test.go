package maildir

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/pkg/xattr"

	"github.com/fenilsonani/mailstore/internal/logging"
)

// requireXattrs skips the test when the filesystem backing TempDir does not
// support user extended attributes (common on tmpfs and CI runners).
func requireXattrs(t *testing.T) {
	t.Helper()
	if !xattr.XATTR_SUPPORTED {
		t.Skip("platform lacks xattr support")
	}
	probe := filepath.Join(t.TempDir(), "probe")
	if err := os.WriteFile(probe, []byte("x"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := xattr.Set(probe, "user.probe", []byte("1")); err != nil {
		t.Skipf("filesystem lacks xattr support: %v", err)
	}
}

func TestAttrCacheWriteThrough(t *testing.T) {
	requireXattrs(t)
	store := newTestStore(t, Options{Xattr: true})

	content := []byte("Subject: hi\r\n\r\nhello\r\n")
	key, err := store.Add(NewMessage(content))
	if err != nil {
		t.Fatal(err)
	}
	msg, err := store.Get(key)
	if err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(store.Path(), "cur", key+":2,")
	hash, err := xattr.Get(path, attrHash)
	if err != nil {
		t.Fatalf("hash attribute missing: %v", err)
	}
	if string(hash) != msg.ContentHash() {
		t.Errorf("stored hash %q != computed %q", hash, msg.ContentHash())
	}

	date, err := xattr.Get(path, attrDate)
	if err != nil {
		t.Fatalf("date attribute missing: %v", err)
	}
	secs, err := strconv.ParseInt(string(date), 10, 64)
	if err != nil {
		t.Fatalf("date attribute %q not a unix timestamp: %v", date, err)
	}
	if got := time.Unix(secs, 0); got.IsZero() {
		t.Error("stored delivery date is zero")
	}
}

func TestAttrCacheTrustsStoredValues(t *testing.T) {
	requireXattrs(t)
	store := newTestStore(t, Options{Xattr: true})

	key, err := store.Add(NewMessage([]byte("hello")))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.Get(key); err != nil {
		t.Fatal(err)
	}

	// Overwrite the cached values; the next load trusts them without
	// verifying content.
	path := filepath.Join(store.Path(), "cur", key+":2,")
	if err := xattr.Set(path, attrHash, []byte("planted-hash")); err != nil {
		t.Fatal(err)
	}
	planted := time.Date(2001, 2, 3, 4, 5, 6, 0, time.UTC)
	if err := xattr.Set(path, attrDate, []byte(strconv.FormatInt(planted.Unix(), 10))); err != nil {
		t.Fatal(err)
	}

	msg, err := store.Get(key)
	if err != nil {
		t.Fatal(err)
	}
	if got := msg.ContentHash(); got != "planted-hash" {
		t.Errorf("ContentHash() = %q, want planted value", got)
	}
	if got := msg.Date(); !got.Equal(planted) {
		t.Errorf("Date() = %v, want planted %v", got, planted)
	}
}

func TestAttrCacheDisablesOnError(t *testing.T) {
	cache := newAttrCache(true, logging.Discard())
	if !cache.enabled() && !xattr.XATTR_SUPPORTED {
		t.Skip("platform lacks xattr support")
	}

	// Any I/O failure permanently disables the capability.
	msg := NewMessage([]byte("hello"))
	cache.annotate(msg, filepath.Join(t.TempDir(), "does-not-exist"))

	if cache.enabled() {
		t.Error("cache still enabled after I/O error")
	}

	// Subsequent operations are no-ops rather than errors.
	cache.annotate(msg, filepath.Join(t.TempDir(), "also-missing"))
	cache.storeHash(msg, filepath.Join(t.TempDir(), "still-missing"))
	if cache.enabled() {
		t.Error("cache re-enabled itself")
	}
}

func TestAttrCacheDisabledByDefault(t *testing.T) {
	cache := newAttrCache(false, logging.Discard())
	if cache.enabled() {
		t.Error("cache enabled without opt-in")
	}
}
