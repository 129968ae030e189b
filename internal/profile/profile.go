// Package profile stores saved SSH connection profiles in SQLite.
//
// Passwords, private keys and passphrases are sealed with internal/crypto
// before they are written and opened again on read.
package profile

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

const (
	DefaultPort = 22

	// UngroupedLabel is shown for profiles without a group.
	UngroupedLabel = "Ungrouped"

	copySuffix = " (copy)"
)

var (
	// ErrNotFound is returned when no profile matches an id or name.
	ErrNotFound = errors.New("profile: not found")
	// ErrNameTaken is returned when another profile already uses the name.
	ErrNameTaken = errors.New("profile: name already in use")
	// ErrInvalid is returned for profiles missing required fields.
	ErrInvalid = errors.New("profile: invalid")
)

// IsNotFound reports whether err is (or wraps) ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// AuthMethod selects which stored secret a connection uses.
type AuthMethod string

const (
	AuthPassword   AuthMethod = "password"
	AuthPrivateKey AuthMethod = "private_key"
)

// Profile is one saved connection.
type Profile struct {
	ID         string
	Name       string
	Host       string
	Port       int
	Username   string
	AuthMethod AuthMethod

	Password   string
	PrivateKey string
	Passphrase string

	Group string
	Tags  []string

	CreatedAt     time.Time
	LastConnected *time.Time
}

// Target returns user@host:port.
func (p Profile) Target() string {
	return fmt.Sprintf("%s@%s:%d", p.Username, p.Host, p.Port)
}

// GroupLabel returns the group name, or UngroupedLabel.
func (p Profile) GroupLabel() string {
	if p.Group == "" {
		return UngroupedLabel
	}
	return p.Group
}

// normalize applies defaults and checks required fields.
func (p *Profile) normalize() error {
	p.Name = strings.TrimSpace(p.Name)
	p.Host = strings.TrimSpace(p.Host)
	p.Username = strings.TrimSpace(p.Username)
	p.Group = strings.TrimSpace(p.Group)

	if p.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalid)
	}
	if p.Host == "" {
		return fmt.Errorf("%w: host is required", ErrInvalid)
	}
	if p.Username == "" {
		return fmt.Errorf("%w: username is required", ErrInvalid)
	}
	if p.Port == 0 {
		p.Port = DefaultPort
	}
	if p.Port < 1 || p.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalid, p.Port)
	}
	switch p.AuthMethod {
	case "":
		p.AuthMethod = AuthPassword
		if p.PrivateKey != "" && p.Password == "" {
			p.AuthMethod = AuthPrivateKey
		}
	case AuthPassword, AuthPrivateKey:
	default:
		return fmt.Errorf("%w: unknown auth method %q", ErrInvalid, p.AuthMethod)
	}

	tags := p.Tags[:0:0]
	seen := make(map[string]bool, len(p.Tags))
	for _, tag := range p.Tags {
		tag = strings.TrimSpace(tag)
		if tag == "" || seen[tag] {
			continue
		}
		seen[tag] = true
		tags = append(tags, tag)
	}
	p.Tags = tags
	return nil
}

// Group is a set of profiles sharing a group label.
type Group struct {
	Label    string
	Profiles []Profile
}

// Grouped buckets profiles by GroupLabel. Named groups come first in name
// order, then UngroupedLabel; input order is kept within a group.
func Grouped(profiles []Profile) []Group {
	index := map[string]int{}
	var groups []Group
	for _, p := range profiles {
		label := p.GroupLabel()
		i, ok := index[label]
		if !ok {
			i = len(groups)
			index[label] = i
			groups = append(groups, Group{Label: label})
		}
		groups[i].Profiles = append(groups[i].Profiles, p)
	}
	sort.SliceStable(groups, func(a, b int) bool {
		ua, ub := groups[a].Label == UngroupedLabel, groups[b].Label == UngroupedLabel
		if ua != ub {
			return ub
		}
		return strings.ToLower(groups[a].Label) < strings.ToLower(groups[b].Label)
	})
	return groups
}
