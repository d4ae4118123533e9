// Package api defines the JSON messages exchanged with the browser client.
//
// Every message is an object with a "type" discriminant followed by the
// variant's own fields, all camelCase.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
)

type UpdatingStatus string

const (
	StatusIdle     UpdatingStatus = "idle"
	StatusUpdating UpdatingStatus = "updating"
	StatusFinished UpdatingStatus = "finished"
)

type DeletingStatus string

const (
	DeletingInProgress DeletingStatus = "deleting"
	DeletingFinished   DeletingStatus = "finished"
)

type EntryType string

const (
	EntryFile      EntryType = "file"
	EntryDirectory EntryType = "directory"
)

// Entry is a listing row. Updating is only set for directories.
type Entry struct {
	Type     EntryType      `json:"type"`
	Path     []string       `json:"path"`
	Size     uint64         `json:"size"`
	Updating UpdatingStatus `json:"updating,omitempty"`
}

func FileEntry(path []string, size uint64) Entry {
	return Entry{Type: EntryFile, Path: nonNil(path), Size: size}
}

func DirectoryEntry(path []string, size uint64, updating UpdatingStatus) Entry {
	return Entry{Type: EntryDirectory, Path: nonNil(path), Size: size, Updating: updating}
}

func (e Entry) IsDir() bool {
	return e.Type == EntryDirectory
}

// Name is the last path segment, empty for the root.
func (e Entry) Name() string {
	if len(e.Path) == 0 {
		return ""
	}
	return e.Path[len(e.Path)-1]
}

var (
	ErrUnknownMessage = errors.New("unknown message type")
	ErrMissingPath    = errors.New("message has no path")
)

// Outbound events

type EventMessage interface {
	isEventMessage()
}

type DirectoryChange struct {
	CurrentDirectory  Entry   `json:"currentDirectory"`
	Entries           []Entry `json:"entries"`
	BreadcrumbEntries []Entry `json:"breadcrumbEntries"`
	AvailableSpace    uint64  `json:"availableSpace"`
}

type SizeUpdate struct {
	Entry Entry `json:"entry"`
}

type Deleting struct {
	Path   []string       `json:"path"`
	Status DeletingStatus `json:"status"`
}

func (DirectoryChange) isEventMessage() {}
func (SizeUpdate) isEventMessage()      {}
func (Deleting) isEventMessage()        {}

func (m DirectoryChange) MarshalJSON() ([]byte, error) {
	type fields DirectoryChange
	f := fields(m)
	if f.Entries == nil {
		f.Entries = []Entry{}
	}
	if f.BreadcrumbEntries == nil {
		f.BreadcrumbEntries = []Entry{}
	}
	return marshalTagged("directoryChange", f)
}

func (m SizeUpdate) MarshalJSON() ([]byte, error) {
	type fields SizeUpdate
	return marshalTagged("sizeUpdate", fields(m))
}

func (m Deleting) MarshalJSON() ([]byte, error) {
	type fields Deleting
	f := fields(m)
	f.Path = nonNil(f.Path)
	return marshalTagged("deleting", f)
}

// DecodeEventMessage parses an outbound frame, mostly for Go clients and
// tests.
func DecodeEventMessage(data []byte) (EventMessage, error) {
	kind, err := peekType(data)
	if err != nil {
		return nil, err
	}

	switch kind {
	case "directoryChange":
		var m DirectoryChange
		err = json.Unmarshal(data, &m)
		return m, err
	case "sizeUpdate":
		var m SizeUpdate
		err = json.Unmarshal(data, &m)
		return m, err
	case "deleting":
		var m Deleting
		err = json.Unmarshal(data, &m)
		return m, err
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessage, kind)
	}
}

// Inbound control messages

type ControlMessage interface {
	isControlMessage()
	TargetPath() []string
}

type ChangeDirectory struct {
	Path []string `json:"path"`
}

type Delete struct {
	Path []string `json:"path"`
}

type Reveal struct {
	Path []string `json:"path"`
}

func (ChangeDirectory) isControlMessage() {}
func (Delete) isControlMessage()          {}
func (Reveal) isControlMessage()          {}

func (m ChangeDirectory) TargetPath() []string { return m.Path }
func (m Delete) TargetPath() []string          { return m.Path }
func (m Reveal) TargetPath() []string          { return m.Path }

func (m ChangeDirectory) MarshalJSON() ([]byte, error) {
	return marshalTagged("changeDirectory", pathOnly{nonNil(m.Path)})
}

func (m Delete) MarshalJSON() ([]byte, error) {
	return marshalTagged("delete", pathOnly{nonNil(m.Path)})
}

func (m Reveal) MarshalJSON() ([]byte, error) {
	return marshalTagged("reveal", pathOnly{nonNil(m.Path)})
}

type pathOnly struct {
	Path []string `json:"path"`
}

// DecodeControlMessage parses an inbound frame. Unknown types and a missing
// path are errors.
func DecodeControlMessage(data []byte) (ControlMessage, error) {
	var envelope struct {
		Type string          `json:"type"`
		Path json.RawMessage `json:"path"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("decoding control message: %w", err)
	}

	switch envelope.Type {
	case "changeDirectory", "delete", "reveal":
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessage, envelope.Type)
	}

	if len(envelope.Path) == 0 || string(envelope.Path) == "null" {
		return nil, fmt.Errorf("%s: %w", envelope.Type, ErrMissingPath)
	}
	var path []string
	if err := json.Unmarshal(envelope.Path, &path); err != nil {
		return nil, fmt.Errorf("decoding %s path: %w", envelope.Type, err)
	}

	switch envelope.Type {
	case "delete":
		return Delete{Path: path}, nil
	case "reveal":
		return Reveal{Path: path}, nil
	default:
		return ChangeDirectory{Path: path}, nil
	}
}

// marshalTagged encodes fields as an object and puts the "type"
// discriminant in front of them.
func marshalTagged(kind string, fields any) ([]byte, error) {
	body, err := json.Marshal(fields)
	if err != nil {
		return nil, err
	}
	tag, err := json.Marshal(kind)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, len(body)+len(tag)+10)
	out = append(out, `{"type":`...)
	out = append(out, tag...)
	if len(body) > 2 {
		out = append(out, ',')
	}
	return append(out, body[1:]...), nil
}

func peekType(data []byte) (string, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return "", fmt.Errorf("decoding message: %w", err)
	}
	return envelope.Type, nil
}

func nonNil(path []string) []string {
	if path == nil {
		return []string{}
	}
	return path
}
