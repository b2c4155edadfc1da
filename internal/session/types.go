// Package session owns per-user conversation state: a concurrent store of
// bounded turn histories keyed by channel-qualified identity, with periodic
// crash-safe snapshots to disk.
package session

import (
	"fmt"
	"strings"
	"time"
)

// Role identifies who produced a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one recorded message. Immutable once appended.
type Turn struct {
	Role Role      `json:"role"`
	Text string    `json:"text"`
	Time time.Time `json:"time"`
}

// Identity is the channel-qualified user key, e.g. ("whatsapp", "2010...").
// It is the sole key into the store and is never reused across channels.
type Identity struct {
	Channel   string
	SubjectID string
}

// Key returns the canonical "channel:subject" form used in snapshots.
func (i Identity) Key() string {
	return i.Channel + ":" + i.SubjectID
}

func (i Identity) String() string {
	return i.Key()
}

// ParseIdentity parses the canonical key form back into an Identity.
func ParseIdentity(key string) (Identity, error) {
	channel, subject, ok := strings.Cut(key, ":")
	if !ok || channel == "" || subject == "" {
		return Identity{}, fmt.Errorf("invalid identity key: %q", key)
	}
	return Identity{Channel: channel, SubjectID: subject}, nil
}
