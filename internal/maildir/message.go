package maildir

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	gomessage "github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"

	"github.com/fenilsonani/mailstore/internal/hostid"
)

// Subdir identifies which maildir subdirectory holds a message file.
type Subdir string

const (
	// SubdirTmp holds files still being written; transient.
	SubdirTmp Subdir = "tmp"
	// SubdirNew holds delivered messages not yet seen by any reader.
	SubdirNew Subdir = "new"
	// SubdirCur holds messages that have been read or carry flags.
	SubdirCur Subdir = "cur"
)

// infoPrefix is the experimental-version marker every info suffix starts
// with. Other mail tools parse these filenames directly, so it must be
// preserved exactly.
const infoPrefix = "2,"

// deliveries counts messages created by this process, feeding the Q field of
// generated keys.
var deliveries atomic.Int64

// Message is the in-memory representation of one stored message.
type Message struct {
	key     string
	info    string
	subdir  Subdir
	content []byte
	mtime   time.Time

	contentHash  string
	date         time.Time
	dateResolved bool
}

// NewMessage returns a message holding content, destined for new. A unique
// key is generated immediately; callers adding the message to a store may see
// it regenerated on collision.
func NewMessage(content []byte) *Message {
	return &Message{
		key:     generateKey(),
		subdir:  SubdirNew,
		content: append([]byte(nil), content...),
	}
}

// generateKey builds a globally-probably-unique message key from wall-clock
// seconds, a random 32-bit value, sub-second microseconds, the process group
// id, a per-process delivery counter, and the host name. Uniqueness is not
// guaranteed; Store.Add re-checks against the index and regenerates.
func generateKey() string {
	now := time.Now()

	var buf [4]byte
	rand.Read(buf[:])
	random := binary.BigEndian.Uint32(buf[:])

	return fmt.Sprintf("%d.R%dM%dP%dQ%d.%s",
		now.Unix(),
		random,
		now.Nanosecond()/1000,
		hostid.ProcessGroup(),
		deliveries.Add(1),
		hostid.Hostname(),
	)
}

// Key returns the unique id portion of the message filename.
func (m *Message) Key() string { return m.key }

// SetKey renames the message. The store only honors this through Update.
func (m *Message) SetKey(key string) { m.key = key }

// Info returns the filename info suffix, or "" when no flags were recorded.
func (m *Message) Info() string { return m.info }

// Subdir returns which subdirectory currently holds the message.
func (m *Message) Subdir() Subdir { return m.subdir }

// SetSubdir sets the target subdirectory for the next Update.
func (m *Message) SetSubdir(subdir Subdir) { m.subdir = subdir }

// Content returns the raw message bytes.
func (m *Message) Content() []byte { return m.content }

// SetContent replaces the message bytes, invalidating the cached content
// hash.
func (m *Message) SetContent(content []byte) {
	m.content = append([]byte(nil), content...)
	m.contentHash = ""
}

// ContentHash returns the hex-encoded SHA-256 digest of the content,
// computing it on first use.
func (m *Message) ContentHash() string {
	if m.contentHash == "" && len(m.content) > 0 {
		sum := sha256.Sum256(m.content)
		m.contentHash = hex.EncodeToString(sum[:])
	}
	return m.contentHash
}

// setContentHash installs an externally cached hash without recomputing.
func (m *Message) setContentHash(hash string) { m.contentHash = hash }

// ModTime returns the message modification time, used as the file mtime on
// write and as the delivery date fallback.
func (m *Message) ModTime() time.Time { return m.mtime }

// SetModTime sets the modification time.
func (m *Message) SetModTime(t time.Time) { m.mtime = t }

// Date returns the delivery date. Resolution order: a previously cached
// value, the Date header (best effort), then the modification time. The
// first successful source is cached for the lifetime of this instance.
func (m *Message) Date() time.Time {
	if m.dateResolved {
		return m.date
	}
	if d, ok := m.headerDate(); ok {
		m.date = d
		m.dateResolved = true
		return m.date
	}
	if !m.mtime.IsZero() {
		m.date = m.mtime
		m.dateResolved = true
	}
	return m.date
}

// setDate installs an externally cached delivery date.
func (m *Message) setDate(t time.Time) {
	m.date = t
	m.dateResolved = true
}

// headerDate parses the Date header from the content. Any parse failure is
// swallowed; headers are frequently malformed in the wild.
func (m *Message) headerDate() (time.Time, bool) {
	if len(m.content) == 0 {
		return time.Time{}, false
	}
	entity, err := gomessage.Read(bytes.NewReader(m.content))
	if err != nil || entity == nil {
		return time.Time{}, false
	}
	h := mail.Header{Header: entity.Header}
	d, err := h.Date()
	if err != nil || d.IsZero() {
		return time.Time{}, false
	}
	return d, true
}

// Flags returns the single-character flags recorded in the info suffix, in
// sorted order.
func (m *Message) Flags() string {
	if strings.HasPrefix(m.info, infoPrefix) && len(m.info) > len(infoPrefix) {
		return m.info[len(infoPrefix):]
	}
	return ""
}

// SetFlags replaces the flag set, normalizing to sorted unique characters.
func (m *Message) SetFlags(flags string) {
	m.info = infoPrefix + normalizeFlags(flags)
}

// AddFlags unions flags into the current set. Idempotent.
func (m *Message) AddFlags(flags string) {
	m.SetFlags(m.Flags() + flags)
}

// RemoveFlags removes flags from the current set. Idempotent.
func (m *Message) RemoveFlags(flags string) {
	current := m.Flags()
	var kept []rune
	for _, r := range current {
		if !strings.ContainsRune(flags, r) {
			kept = append(kept, r)
		}
	}
	m.SetFlags(string(kept))
}

// normalizeFlags sorts and deduplicates flag characters so flag mutation is
// order-independent.
func normalizeFlags(flags string) string {
	seen := make(map[rune]bool)
	var out []rune
	for _, r := range flags {
		if !seen[r] {
			seen[r] = true
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return string(out)
}

// Filename returns the canonical on-disk name for the message: the bare key
// for unflagged messages outside cur, otherwise key + ":" + info.
func (m *Message) Filename() string {
	if m.subdir == SubdirCur || m.Flags() != "" {
		info := m.info
		if info == "" {
			info = infoPrefix
		}
		return m.key + joinSeparator + info
	}
	return m.key
}

// joinSeparator separates the key from the info suffix in a filename.
const joinSeparator = ":"

// splitFilename breaks an on-disk name into key and info suffix.
func splitFilename(name string) (key, info string) {
	if i := strings.Index(name, joinSeparator); i >= 0 {
		return name[:i], name[i+1:]
	}
	return name, ""
}
