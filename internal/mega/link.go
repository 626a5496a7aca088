// Package mega implements the client side of MEGA public shares: link
// parsing, the remote listing/fetch API, per-node key unwrapping and
// authenticated streaming decryption of file bodies.
package mega

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// ErrInvalidLink marks URLs that are not a recognized MEGA public share link.
var ErrInvalidLink = errors.New("invalid_link")

// LinkKind distinguishes file and folder shares.
type LinkKind int

const (
	LinkFile LinkKind = iota
	LinkFolder
)

func (k LinkKind) String() string {
	if k == LinkFolder {
		return "folder"
	}
	return "file"
}

// PublicLink is the canonical form of a public share link: what is shared,
// the remote handle and the key token from the fragment. The key stays in
// its base64url form until it is needed; see FileKeyFromToken and
// ShareKeyFromToken.
type PublicLink struct {
	Kind   LinkKind
	Handle string
	Key    string
}

// LegacyURL renders the canonical legacy fragment form of the link.
func (l PublicLink) LegacyURL() string {
	if l.Kind == LinkFolder {
		return "https://mega.nz/#F!" + l.Handle + "!" + l.Key
	}
	return "https://mega.nz/#!" + l.Handle + "!" + l.Key
}

var linkToken = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ParseLink accepts the legacy fragment forms (#!h!k and #F!h!k) and the
// modern path forms (/file/h#k and /folder/h#k) on any MEGA host and
// extracts the canonical (kind, handle, key) triple. Trailing sub-paths,
// query strings or selector segments after the key are discarded.
func ParseLink(raw string) (PublicLink, error) {
	trimmed := strings.TrimSpace(raw)
	u, err := url.Parse(trimmed)
	if err != nil {
		return PublicLink{}, fmt.Errorf("%w: %v", ErrInvalidLink, err)
	}
	if u.Host == "" && u.Scheme == "" {
		u, err = url.Parse("https://" + trimmed)
		if err != nil {
			return PublicLink{}, fmt.Errorf("%w: %v", ErrInvalidLink, err)
		}
	}
	if !isMegaHost(u.Hostname()) {
		return PublicLink{}, fmt.Errorf("%w: host %q", ErrInvalidLink, u.Host)
	}
	frag := u.Fragment
	switch {
	case strings.HasPrefix(frag, "F!"):
		return splitLegacy(LinkFolder, frag[len("F!"):])
	case strings.HasPrefix(frag, "!"):
		return splitLegacy(LinkFile, frag[len("!"):])
	}
	segs := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(segs) >= 2 {
		switch segs[0] {
		case "file":
			return makeLink(LinkFile, segs[1], frag)
		case "folder":
			return makeLink(LinkFolder, segs[1], frag)
		}
	}
	return PublicLink{}, fmt.Errorf("%w: no share fragment in %q", ErrInvalidLink, raw)
}

// NormalizeLink parses any accepted form and renders the legacy fragment
// form. Normalizing an already-legacy link returns it unchanged.
func NormalizeLink(raw string) (string, error) {
	link, err := ParseLink(raw)
	if err != nil {
		return "", err
	}
	return link.LegacyURL(), nil
}

func isMegaHost(host string) bool {
	host = strings.ToLower(host)
	return host == "mega.nz" || host == "mega.co.nz" ||
		strings.HasSuffix(host, ".mega.nz") || strings.HasSuffix(host, ".mega.co.nz")
}

func splitLegacy(kind LinkKind, rest string) (PublicLink, error) {
	handle, key, ok := strings.Cut(rest, "!")
	if !ok {
		return PublicLink{}, fmt.Errorf("%w: missing key segment", ErrInvalidLink)
	}
	return makeLink(kind, handle, key)
}

func makeLink(kind LinkKind, handle, key string) (PublicLink, error) {
	// Keys pasted from the wild drag selector, sub-path or query junk along.
	if i := strings.IndexAny(key, "!/?&"); i >= 0 {
		key = key[:i]
	}
	if handle == "" || !linkToken.MatchString(handle) {
		return PublicLink{}, fmt.Errorf("%w: bad handle %q", ErrInvalidLink, handle)
	}
	if key == "" || !linkToken.MatchString(key) {
		return PublicLink{}, fmt.Errorf("%w: missing key segment", ErrInvalidLink)
	}
	return PublicLink{Kind: kind, Handle: handle, Key: key}, nil
}
