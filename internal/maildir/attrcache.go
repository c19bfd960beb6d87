package maildir

import (
	"slices"
	"strconv"
	"time"

	"github.com/pkg/xattr"

	"github.com/fenilsonani/mailstore/internal/logging"
	"github.com/fenilsonani/mailstore/internal/metrics"
)

// Attribute names attached to message files. The hash attribute keeps its
// historical name even though the digest is SHA-256; existing mailboxes carry
// it and other tools read it back verbatim.
const (
	attrHash = "user.md5sum"
	attrDate = "user.date"
)

// attrCapability tracks whether extended attributes work on the filesystem
// backing one store instance.
type attrCapability int

const (
	capUnknown attrCapability = iota
	capEnabled
	capDisabled
)

// attrCache persists a content hash and a delivery date alongside each
// message file using extended attributes. It is pure optimization: any
// I/O-class failure permanently disables the capability for this store
// instance and is never surfaced to the caller of a message operation.
type attrCache struct {
	state  attrCapability
	logger *logging.Logger
}

func newAttrCache(enabled bool, logger *logging.Logger) *attrCache {
	c := &attrCache{
		state:  capDisabled,
		logger: logger.Xattr(),
	}
	if enabled && xattr.XATTR_SUPPORTED {
		c.state = capEnabled
	}
	return c
}

func (c *attrCache) enabled() bool {
	return c.state == capEnabled
}

// disable turns the capability off for the remainder of the store lifetime.
// Read-only filesystems and filesystems without user xattrs land here.
func (c *attrCache) disable(err error) {
	if c.state == capDisabled {
		return
	}
	c.state = capDisabled
	metrics.XattrDisables.Inc()
	c.logger.WithError(err).Warn("filesystem rejected extended attributes; disabling cache")
}

// annotate enriches a freshly loaded message from the attributes on its
// file, populating any attribute that is missing (write-through). The cached
// values are trusted without verification: content is immutable once
// delivered, and flag-only renames do not touch it.
func (c *attrCache) annotate(msg *Message, path string) {
	if !c.enabled() {
		return
	}

	names, err := xattr.List(path)
	if err != nil {
		c.disable(err)
		return
	}

	if slices.Contains(names, attrHash) {
		b, err := xattr.Get(path, attrHash)
		if err != nil {
			c.disable(err)
			return
		}
		msg.setContentHash(string(b))
	} else if hash := msg.ContentHash(); hash != "" {
		if err := xattr.Set(path, attrHash, []byte(hash)); err != nil {
			c.disable(err)
			return
		}
	}

	if slices.Contains(names, attrDate) {
		b, err := xattr.Get(path, attrDate)
		if err != nil {
			c.disable(err)
			return
		}
		if secs, perr := strconv.ParseFloat(string(b), 64); perr == nil {
			msg.setDate(time.Unix(int64(secs), 0))
		}
	} else if date := msg.Date(); !date.IsZero() {
		if err := xattr.Set(path, attrDate, []byte(strconv.FormatInt(date.Unix(), 10))); err != nil {
			c.disable(err)
			return
		}
	}
}

// storeHash writes the content hash attribute after a message write.
func (c *attrCache) storeHash(msg *Message, path string) {
	if !c.enabled() {
		return
	}
	hash := msg.ContentHash()
	if hash == "" {
		return
	}
	if err := xattr.Set(path, attrHash, []byte(hash)); err != nil {
		c.disable(err)
	}
}
