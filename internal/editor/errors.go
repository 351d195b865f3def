package editor

import "errors"

var (
	// ErrCollaborationUnavailable is returned when going online without a
	// configured remote store.
	ErrCollaborationUnavailable = errors.New("collaboration is not configured")
	// ErrInvalidRoom is returned for join links that carry no room id.
	ErrInvalidRoom = errors.New("invalid room link")
	// ErrNoRoom is returned for room actions while not in a room.
	ErrNoRoom = errors.New("not in a room")
	// ErrProjectNotFound is returned when loading a project that is not in
	// the history.
	ErrProjectNotFound = errors.New("project not found")
)
