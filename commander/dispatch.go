// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commander

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/bureau-foundation/matrix-commander/lib/ref"
	"github.com/bureau-foundation/matrix-commander/messaging"
)

// MessageOptions selects how a text message is wrapped. Code takes
// precedence over everything: the text is fenced and sent as plain
// text even when Markdown is also set. Otherwise Notice beats Emote
// beats a plain m.text, and Markdown adds an HTML rendering.
type MessageOptions struct {
	Code     bool
	Markdown bool
	Notice   bool
	Emote    bool
}

// MessageContent is the content of an m.room.message text event.
type MessageContent struct {
	MsgType       string `json:"msgtype"`
	Body          string `json:"body"`
	Format        string `json:"format,omitempty"`
	FormattedBody string `json:"formatted_body,omitempty"`
}

// FormatHTML is the Matrix format identifier for HTML bodies.
const FormatHTML = "org.matrix.custom.html"

var (
	markdownOnce     sync.Once
	markdownRenderer goldmark.Markdown
)

func markdown() goldmark.Markdown {
	markdownOnce.Do(func() {
		markdownRenderer = goldmark.New(goldmark.WithExtensions(extension.GFM))
	})
	return markdownRenderer
}

// BuildMessageContent builds the event content for text under options.
func BuildMessageContent(text string, options MessageOptions) (MessageContent, error) {
	msgType := "m.text"
	switch {
	case options.Notice:
		msgType = "m.notice"
	case options.Emote:
		msgType = "m.emote"
	}

	if options.Code {
		fenced := "```\n" + text
		if !strings.HasSuffix(fenced, "\n") {
			fenced += "\n"
		}
		fenced += "```"
		return MessageContent{MsgType: msgType, Body: fenced}, nil
	}

	content := MessageContent{MsgType: msgType, Body: text}
	if options.Markdown {
		var rendered bytes.Buffer
		if err := markdown().Convert([]byte(text), &rendered); err != nil {
			return MessageContent{}, fmt.Errorf("rendering markdown: %w", err)
		}
		content.Format = FormatHTML
		content.FormattedBody = strings.TrimSuffix(rendered.String(), "\n")
	}
	return content, nil
}

// SendMessage resolves room and sends text to it.
func (s *Session) SendMessage(ctx context.Context, room, text string, options MessageOptions) (ref.EventID, error) {
	if err := s.established(); err != nil {
		return ref.EventID{}, err
	}
	content, err := BuildMessageContent(text, options)
	if err != nil {
		return ref.EventID{}, err
	}
	roomID, err := s.ResolveRoom(ctx, room)
	if err != nil {
		return ref.EventID{}, err
	}
	eventID, err := s.matrix.SendMessage(ctx, roomID, content)
	if err != nil {
		return ref.EventID{}, err
	}
	s.logger.Info("message sent", "room_id", roomID, "event_id", eventID, "msgtype", content.MsgType)
	return eventID, nil
}

// ResolveRoom turns a room target into the ID of a joined room. The
// target is a room ID, a room alias, or "" for the default room.
// Failures are *RoomError; transport errors pass through unchanged.
func (s *Session) ResolveRoom(ctx context.Context, target string) (ref.RoomID, error) {
	if err := s.established(); err != nil {
		return ref.RoomID{}, err
	}
	target = strings.TrimSpace(target)
	if target == "" {
		target = s.credentials.RoomDefault
	}
	if target == "" {
		return ref.RoomID{}, &RoomError{Reason: RoomMissing}
	}

	var roomID ref.RoomID
	switch target[0] {
	case '#':
		alias, err := ref.ParseRoomAlias(target)
		if err != nil {
			return ref.RoomID{}, &RoomError{Room: target, Reason: RoomMalformed, Err: err}
		}
		roomID, err = s.matrix.ResolveAlias(ctx, alias)
		if err != nil {
			if messaging.IsMatrixError(err, messaging.ErrCodeNotFound) {
				return ref.RoomID{}, &RoomError{Room: target, Reason: RoomUnknown, Err: err}
			}
			return ref.RoomID{}, err
		}
	default:
		var err error
		roomID, err = ref.ParseRoomID(target)
		if err != nil {
			return ref.RoomID{}, &RoomError{Room: target, Reason: RoomMalformed, Err: err}
		}
	}

	joined, err := s.matrix.JoinedRooms(ctx)
	if err != nil {
		return ref.RoomID{}, err
	}
	if !slices.Contains(joined, roomID) {
		return ref.RoomID{}, &RoomError{Room: target, Reason: RoomNotJoined}
	}
	return roomID, nil
}

// FileRequest describes an attachment to send.
type FileRequest struct {
	// Room is resolved like SendMessage's room.
	Room string

	// Path is read whole into memory.
	Path string

	// Label is the attachment's display name; defaults to the base
	// name of Path.
	Label string

	// MIME overrides the type guessed from the file extension.
	MIME string
}

// FileInfo is the info block of an attachment event.
type FileInfo struct {
	MimeType string `json:"mimetype"`
	Size     int    `json:"size"`
}

// FileContent is the content of an m.image, m.video, m.audio or m.file
// event.
type FileContent struct {
	MsgType  string   `json:"msgtype"`
	Body     string   `json:"body"`
	Filename string   `json:"filename"`
	URL      string   `json:"url"`
	Info     FileInfo `json:"info"`
}

// SendFile uploads a file and posts it to a room.
func (s *Session) SendFile(ctx context.Context, request FileRequest) (ref.EventID, error) {
	if err := s.established(); err != nil {
		return ref.EventID{}, err
	}
	label, err := AttachmentLabel(request.Path, request.Label)
	if err != nil {
		return ref.EventID{}, err
	}
	data, err := os.ReadFile(request.Path)
	if err != nil {
		return ref.EventID{}, fmt.Errorf("reading attachment: %w", err)
	}
	roomID, err := s.ResolveRoom(ctx, request.Room)
	if err != nil {
		return ref.EventID{}, err
	}

	mimeType := ResolveMIME(request.Path, request.MIME)
	uri, err := s.matrix.UploadMedia(ctx, mimeType, label, data)
	if err != nil {
		return ref.EventID{}, err
	}
	content := FileContent{
		MsgType:  attachmentMsgType(mimeType),
		Body:     label,
		Filename: label,
		URL:      uri,
		Info:     FileInfo{MimeType: mimeType, Size: len(data)},
	}
	eventID, err := s.matrix.SendMessage(ctx, roomID, content)
	if err != nil {
		return ref.EventID{}, err
	}
	s.logger.Info("file sent",
		"room_id", roomID,
		"event_id", eventID,
		"label", label,
		"mimetype", mimeType,
		"size", len(data),
	)
	return eventID, nil
}

// AttachmentLabel returns explicit if set, else the base name of path.
// A path without a final component is ErrInvalidFile.
func AttachmentLabel(path, explicit string) (string, error) {
	if label := strings.TrimSpace(explicit); label != "" {
		return label, nil
	}
	if path == "" || strings.HasSuffix(path, string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q has no file name", ErrInvalidFile, path)
	}
	base := filepath.Base(path)
	if base == "." || base == ".." || base == string(filepath.Separator) {
		return "", fmt.Errorf("%w: %q has no file name", ErrInvalidFile, path)
	}
	return base, nil
}

// ResolveMIME returns explicit if set, else the type registered for
// the path's extension without parameters, else
// application/octet-stream.
func ResolveMIME(path, explicit string) string {
	if explicit = strings.TrimSpace(explicit); explicit != "" {
		return explicit
	}
	extension := strings.ToLower(filepath.Ext(path))
	if extension == "" {
		return "application/octet-stream"
	}
	guessed := mime.TypeByExtension(extension)
	if guessed == "" {
		return "application/octet-stream"
	}
	if mediaType, _, err := mime.ParseMediaType(guessed); err == nil {
		return mediaType
	}
	return guessed
}

func attachmentMsgType(mimeType string) string {
	major, _, _ := strings.Cut(mimeType, "/")
	switch major {
	case "image":
		return "m.image"
	case "video":
		return "m.video"
	case "audio":
		return "m.audio"
	default:
		return "m.file"
	}
}

// Devices lists the account's devices. It has no side effects.
func (s *Session) Devices(ctx context.Context) ([]messaging.Device, error) {
	if err := s.established(); err != nil {
		return nil, err
	}
	return s.matrix.Devices(ctx)
}

// FormatDevices renders one "Device: <id> <display name>" line per
// device.
func FormatDevices(devices []messaging.Device) string {
	var builder strings.Builder
	for _, device := range devices {
		fmt.Fprintf(&builder, "Device: %s %s\n", device.DeviceID, device.DisplayName)
	}
	return builder.String()
}
