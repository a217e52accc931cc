package tool

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/joss/sagi/internal/domain"
)

// ArtifactStore persists artifacts. storage.Store implements it.
type ArtifactStore interface {
	SaveArtifact(ctx context.Context, a *domain.Artifact) error
	LoadArtifact(ctx context.Context, id string) (*domain.Artifact, error)
	ListArtifacts(ctx context.Context, chatID string) ([]domain.Artifact, error)
}

// ArtifactTools returns every artifact tool bound to store.
func ArtifactTools(store ArtifactStore) []Tool {
	return []Tool{
		&CreateSpreadsheet{store: store},
		&UpdateCells{store: store},
		&GetArtifact{store: store},
		&ListArtifacts{store: store},
		&CreateDocument{store: store},
		&EditDocument{store: store},
	}
}

func objectSchema(required []string, props map[string]any) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

func strProp(desc string) map[string]any {
	return map[string]any{"type": "string", "description": desc}
}

func invalid(msg string) (*Result, error) {
	return &Result{Output: msg, IsError: true}, fmt.Errorf("%w: %s", ErrInvalidArgs, msg)
}

func toStrings(v any) []string {
	list, _ := v.([]any)
	out := make([]string, 0, len(list))
	for _, item := range list {
		out = append(out, fmt.Sprint(item))
	}
	return out
}

// loadKind fetches an artifact and checks it belongs to the current chat.
func loadKind(ctx context.Context, store ArtifactStore, args map[string]any, kind domain.ArtifactKind) (*domain.Artifact, *Result, error) {
	id, _ := stringArg(args, "artifactId")
	if id == "" {
		r, err := invalid("artifactId is required")
		return nil, r, err
	}
	a, err := store.LoadArtifact(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrArtifactNotFound) {
			return nil, &Result{Output: "artifact " + id + " not found", IsError: true}, nil
		}
		return nil, nil, err
	}
	if chat := ChatIDFrom(ctx); chat != "" && a.ChatID != chat {
		return nil, &Result{Output: "artifact " + id + " not found", IsError: true}, nil
	}
	if kind != "" && a.Kind != kind {
		return nil, &Result{Output: fmt.Sprintf("artifact %s is a %s, not a %s", id, a.Kind, kind), IsError: true}, nil
	}
	return a, nil, nil
}

type CreateSpreadsheet struct{ store ArtifactStore }

func (t *CreateSpreadsheet) Name() string   { return "create_spreadsheet" }
func (t *CreateSpreadsheet) ReadOnly() bool { return false }
func (t *CreateSpreadsheet) Description() string {
	return "Create a spreadsheet artifact with optional header columns and rows."
}

func (t *CreateSpreadsheet) Parameters() map[string]any {
	return objectSchema([]string{"name"}, map[string]any{
		"name":    strProp("Spreadsheet name"),
		"columns": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		"rows": map[string]any{
			"type":  "array",
			"items": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		},
	})
}

func (t *CreateSpreadsheet) Execute(ctx context.Context, args map[string]any) (*Result, error) {
	name, _ := stringArg(args, "name")
	if strings.TrimSpace(name) == "" {
		return invalid("name is required")
	}
	chatID := ChatIDFrom(ctx)
	if chatID == "" {
		return &Result{Output: ErrNoChat.Error(), IsError: true}, ErrNoChat
	}

	var rows [][]string
	if list, ok := args["rows"].([]any); ok {
		for _, r := range list {
			rows = append(rows, toStrings(r))
		}
	}
	sheet := newSheet(toStrings(args["columns"]), rows)

	a := &domain.Artifact{ChatID: chatID, Kind: domain.ArtifactSpreadsheet, Name: name, Content: sheet.encode()}
	if err := t.store.SaveArtifact(ctx, a); err != nil {
		return nil, err
	}
	return &Result{
		Title:    name,
		Output:   fmt.Sprintf("Created spreadsheet %q (%s)\n\n%s", name, a.ID, sheet.Markdown()),
		Metadata: map[string]any{"artifactId": a.ID, "kind": a.Kind},
	}, nil
}

type UpdateCells struct{ store ArtifactStore }

func (t *UpdateCells) Name() string   { return "update_cells" }
func (t *UpdateCells) ReadOnly() bool { return false }
func (t *UpdateCells) Description() string {
	return "Set cell values in a spreadsheet artifact using A1 references. Row 1 is the header row."
}

func (t *UpdateCells) Parameters() map[string]any {
	return objectSchema([]string{"artifactId", "cells"}, map[string]any{
		"artifactId": strProp("Spreadsheet artifact id"),
		"cells": map[string]any{
			"type": "array",
			"items": objectSchema([]string{"ref", "value"}, map[string]any{
				"ref":   strProp("Cell reference such as B3"),
				"value": strProp("New value"),
			}),
		},
	})
}

func (t *UpdateCells) Execute(ctx context.Context, args map[string]any) (*Result, error) {
	a, res, err := loadKind(ctx, t.store, args, domain.ArtifactSpreadsheet)
	if a == nil {
		return res, err
	}
	cells, _ := args["cells"].([]any)
	if len(cells) == 0 {
		return invalid("cells is required")
	}

	sheet, err := decodeSheet(a.Content)
	if err != nil {
		return nil, err
	}
	for _, c := range cells {
		cell, _ := c.(map[string]any)
		ref, _ := stringArg(cell, "ref")
		if err := sheet.Set(ref, fmt.Sprint(cell["value"])); err != nil {
			return invalid(err.Error())
		}
	}

	a.Content = sheet.encode()
	if err := t.store.SaveArtifact(ctx, a); err != nil {
		return nil, err
	}
	return &Result{
		Title:    a.Name,
		Output:   fmt.Sprintf("Updated %d cells in %q\n\n%s", len(cells), a.Name, sheet.Markdown()),
		Metadata: map[string]any{"artifactId": a.ID, "updated": len(cells)},
	}, nil
}

type GetArtifact struct{ store ArtifactStore }

func (t *GetArtifact) Name() string        { return "get_artifact" }
func (t *GetArtifact) ReadOnly() bool      { return true }
func (t *GetArtifact) Description() string { return "Read the content of an artifact." }

func (t *GetArtifact) Parameters() map[string]any {
	return objectSchema([]string{"artifactId"}, map[string]any{
		"artifactId": strProp("Artifact id"),
	})
}

func (t *GetArtifact) Execute(ctx context.Context, args map[string]any) (*Result, error) {
	a, res, err := loadKind(ctx, t.store, args, "")
	if a == nil {
		return res, err
	}
	out := a.Content
	if a.Kind == domain.ArtifactSpreadsheet {
		sheet, err := decodeSheet(a.Content)
		if err != nil {
			return nil, err
		}
		out = sheet.Markdown()
	}
	return &Result{
		Title:    a.Name,
		Output:   out,
		Metadata: map[string]any{"artifactId": a.ID, "kind": a.Kind},
	}, nil
}

type ListArtifacts struct{ store ArtifactStore }

func (t *ListArtifacts) Name() string        { return "list_artifacts" }
func (t *ListArtifacts) ReadOnly() bool      { return true }
func (t *ListArtifacts) Description() string { return "List the artifacts of the current chat." }
func (t *ListArtifacts) Parameters() map[string]any {
	return objectSchema(nil, map[string]any{})
}

func (t *ListArtifacts) Execute(ctx context.Context, args map[string]any) (*Result, error) {
	chatID := ChatIDFrom(ctx)
	if chatID == "" {
		return &Result{Output: ErrNoChat.Error(), IsError: true}, ErrNoChat
	}
	list, err := t.store.ListArtifacts(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return &Result{Output: "No artifacts"}, nil
	}
	var b strings.Builder
	for _, a := range list {
		fmt.Fprintf(&b, "%s\t%s\t%s\n", a.ID, a.Kind, a.Name)
	}
	return &Result{Output: b.String(), Metadata: map[string]any{"count": len(list)}}, nil
}

type CreateDocument struct{ store ArtifactStore }

func (t *CreateDocument) Name() string        { return "create_document" }
func (t *CreateDocument) ReadOnly() bool      { return false }
func (t *CreateDocument) Description() string { return "Create a markdown document artifact." }

func (t *CreateDocument) Parameters() map[string]any {
	return objectSchema([]string{"title", "content"}, map[string]any{
		"title":   strProp("Document title"),
		"content": strProp("Markdown content"),
	})
}

func (t *CreateDocument) Execute(ctx context.Context, args map[string]any) (*Result, error) {
	title, _ := stringArg(args, "title")
	if strings.TrimSpace(title) == "" {
		return invalid("title is required")
	}
	content, _ := stringArg(args, "content")
	chatID := ChatIDFrom(ctx)
	if chatID == "" {
		return &Result{Output: ErrNoChat.Error(), IsError: true}, ErrNoChat
	}

	a := &domain.Artifact{ChatID: chatID, Kind: domain.ArtifactDocument, Name: title, Content: content}
	if err := t.store.SaveArtifact(ctx, a); err != nil {
		return nil, err
	}
	return &Result{
		Title:    title,
		Output:   fmt.Sprintf("Created document %q (%s)", title, a.ID),
		Metadata: map[string]any{"artifactId": a.ID, "kind": a.Kind},
	}, nil
}

type EditDocument struct{ store ArtifactStore }

func (t *EditDocument) Name() string   { return "edit_document" }
func (t *EditDocument) ReadOnly() bool { return false }
func (t *EditDocument) Description() string {
	return "Replace the content of a document artifact and return a line diff of the change."
}

func (t *EditDocument) Parameters() map[string]any {
	return objectSchema([]string{"artifactId", "content"}, map[string]any{
		"artifactId": strProp("Document artifact id"),
		"content":    strProp("New markdown content"),
	})
}

func (t *EditDocument) Execute(ctx context.Context, args map[string]any) (*Result, error) {
	a, res, err := loadKind(ctx, t.store, args, domain.ArtifactDocument)
	if a == nil {
		return res, err
	}
	content, ok := stringArg(args, "content")
	if !ok {
		return invalid("content is required")
	}

	summary := LineDiff(a.Content, content)
	a.Content = content
	if err := t.store.SaveArtifact(ctx, a); err != nil {
		return nil, err
	}
	return &Result{
		Title:  a.Name,
		Output: fmt.Sprintf("Edited %q: +%d -%d lines\n\n%s", a.Name, summary.Added, summary.Removed, summary.Text),
		Metadata: map[string]any{
			"artifactId": a.ID,
			"added":      summary.Added,
			"removed":    summary.Removed,
		},
	}, nil
}

// DiffSummary counts changed lines and renders them with +/- prefixes.
type DiffSummary struct {
	Added   int
	Removed int
	Text    string
}

const maxDiffLines = 200

// LineDiff compares two texts line by line.
func LineDiff(before, after string) DiffSummary {
	dmp := diffmatchpatch.New()
	beforeChars, afterChars, lineArray := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffMain(beforeChars, afterChars, false)
	diffs = dmp.DiffCharsToLines(diffs, lineArray)

	var sum DiffSummary
	var b strings.Builder
	shown := 0
	for _, d := range diffs {
		lines := strings.Split(d.Text, "\n")
		if len(lines) > 0 && lines[len(lines)-1] == "" {
			lines = lines[:len(lines)-1]
		}
		prefix := ""
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			sum.Added += len(lines)
			prefix = "+ "
		case diffmatchpatch.DiffDelete:
			sum.Removed += len(lines)
			prefix = "- "
		default:
			continue
		}
		for _, l := range lines {
			if shown < maxDiffLines {
				b.WriteString(prefix + l + "\n")
			}
			shown++
		}
	}
	if shown > maxDiffLines {
		fmt.Fprintf(&b, "... %d more changed lines\n", shown-maxDiffLines)
	}
	sum.Text = b.String()
	return sum
}
