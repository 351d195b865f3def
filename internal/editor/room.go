package editor

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

var roomIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// ParseRoom accepts either a bare room id or an invite link carrying
// ?room=<id>.
func ParseRoom(linkOrID string) (string, error) {
	raw := strings.TrimSpace(linkOrID)
	if strings.ContainsAny(raw, "?/:") {
		u, err := url.Parse(raw)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidRoom, err)
		}
		raw = u.Query().Get("room")
	}

	if !roomIDPattern.MatchString(raw) {
		return "", ErrInvalidRoom
	}

	return raw, nil
}

// InviteLink returns base with the room id set as its room query parameter.
func InviteLink(base, roomID string) (string, error) {
	if roomID == "" {
		return "", ErrNoRoom
	}

	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("room", roomID)
	u.RawQuery = q.Encode()

	return u.String(), nil
}
