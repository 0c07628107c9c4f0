package ids

import (
	mathrand "math/rand"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0)

	unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9.\-_]+`)
)

// New returns a lexicographically sortable identifier suitable for storage keys.
func New() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// NewRecordID returns a random UUID used as primary key for relational rows.
func NewRecordID() string {
	return uuid.NewString()
}

// IsRecordID reports whether s parses as a UUID.
func IsRecordID(s string) bool {
	_, err := uuid.Parse(strings.TrimSpace(s))
	return err == nil
}

// StorageKey builds `{prefix}/{ulid}-{name}` where name is reduced to a safe charset.
// The ULID carries the upload timestamp and keeps concurrent uploads of the same
// file name apart.
func StorageKey(prefix, originalName string) string {
	return strings.TrimSuffix(prefix, "/") + "/" + New() + "-" + SafeName(originalName)
}

// SafeName strips path components and characters that are awkward in object keys.
func SafeName(name string) string {
	name = strings.TrimSpace(name)
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	name = unsafeChars.ReplaceAllString(name, "_")
	name = strings.Trim(name, "._")
	if name == "" {
		return "file"
	}
	if len(name) > 120 {
		name = name[len(name)-120:]
	}
	return name
}
