package maildir

import (
	"bytes"
	"slices"
	"testing"
	"time"

	gomaildir "github.com/emersion/go-maildir"
)

// The filename encoding is a wire format: other maildir tools parse it
// directly. These tests cross-check against emersion/go-maildir as an
// independent implementation.

func TestGoMaildirReadsOurMessages(t *testing.T) {
	store := newTestStore(t, Options{})

	msg := NewMessage([]byte("Subject: interop\r\n\r\nhello\r\n"))
	msg.SetFlags("FS")
	key, err := store.Add(msg)
	if err != nil {
		t.Fatal(err)
	}

	dir := gomaildir.Dir(store.Path())
	if _, err := dir.Unseen(); err != nil {
		t.Fatalf("go-maildir Unseen failed: %v", err)
	}
	msgs, err := dir.Messages()
	if err != nil {
		t.Fatalf("go-maildir Messages failed: %v", err)
	}

	var found bool
	for _, m := range msgs {
		if m.Key() != key {
			continue
		}
		found = true
		flags := m.Flags()
		if !slices.Contains(flags, gomaildir.FlagSeen) {
			t.Errorf("go-maildir flags %v missing Seen", flags)
		}
		if !slices.Contains(flags, gomaildir.FlagFlagged) {
			t.Errorf("go-maildir flags %v missing Flagged", flags)
		}
	}
	if !found {
		t.Fatalf("go-maildir did not list our key %q", key)
	}
}

func TestExternalGoMaildirDeliveryVisible(t *testing.T) {
	store := newTestStore(t, Options{})

	// Populate the index before the external writer acts.
	if _, err := store.Keys(); err != nil {
		t.Fatal(err)
	}

	content := []byte("Subject: external\r\n\r\ndelivered by another process\r\n")
	delivery, err := gomaildir.NewDelivery(store.Path())
	if err != nil {
		t.Fatalf("go-maildir NewDelivery failed: %v", err)
	}
	if _, err := delivery.Write(content); err != nil {
		_ = delivery.Abort()
		t.Fatal(err)
	}
	if err := delivery.Close(); err != nil {
		t.Fatal(err)
	}

	// Past the mtime grace the next Keys picks the delivery up.
	store.index.lastRefresh = time.Now().Add(-2 * mtimeGrace)
	keys, err := store.Keys()
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 1 {
		t.Fatalf("Keys() = %v, want exactly the external delivery", keys)
	}

	msg, err := store.Get(keys[0])
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(msg.Content(), content) {
		t.Errorf("content mismatch: %q", msg.Content())
	}
	if msg.Subdir() != SubdirCur {
		t.Errorf("external delivery not promoted on read: %s", msg.Subdir())
	}
}
