package model

import (
	"strings"

	"github.com/google/uuid"
)

const roomIDLength = 12

// NewID returns a random identity for documents, pages, panels, dialogue
// lines, references and participants.
func NewID() string {
	return uuid.NewString()
}

// NewRoomID returns a short random room id suitable for an invite link.
func NewRoomID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:roomIDLength]
}
