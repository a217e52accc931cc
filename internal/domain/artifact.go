package domain

import (
	"errors"
	"time"
)

// ArtifactKind names the shape of an artifact's content.
type ArtifactKind string

const (
	ArtifactSpreadsheet ArtifactKind = "spreadsheet"
	ArtifactDocument    ArtifactKind = "document"
)

// Artifact is a document or spreadsheet produced by the agent inside a chat.
// Content is markdown for documents and a JSON-encoded Sheet for
// spreadsheets.
type Artifact struct {
	ID        string       `json:"id"`
	ChatID    string       `json:"chatId"`
	Kind      ArtifactKind `json:"kind"`
	Name      string       `json:"name"`
	Content   string       `json:"content"`
	CreatedAt time.Time    `json:"createdAt"`
	UpdatedAt time.Time    `json:"updatedAt"`
}

// ErrArtifactNotFound is returned when an artifact id is unknown.
var ErrArtifactNotFound = errors.New("artifact not found")
