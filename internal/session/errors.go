package session

import "errors"

var (
	ErrNoRoom  = errors.New("session: no room id")
	ErrNotLive = errors.New("session: not live")
)
