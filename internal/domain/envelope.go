package domain

import (
	"encoding/base64"
	"fmt"
)

// ContentType classifies what an Envelope carries. It fully determines which
// of Text, Caption, and FileData are meaningful.
type ContentType string

const (
	ContentText             ContentType = "text"
	ContentVoiceTranscribed ContentType = "voice_transcribed"
	ContentFile             ContentType = "file"
	ContentImage            ContentType = "image"
	ContentVoiceAudio       ContentType = "voice_audio"
	ContentUnsupported      ContentType = "unsupported"
)

// Envelope is the normalized unit of an inbound chat message crossing the
// transport boundary (server -> bridge -> pipeline).
type Envelope struct {
	Type        string      `json:"type"` // always "message"
	ID          string      `json:"id,omitempty"`
	Sender      string      `json:"sender"`
	ChatID      int64       `json:"chat_id,omitempty"`
	MessageID   int         `json:"message_id,omitempty"`
	Timestamp   int64       `json:"timestamp,omitempty"`
	ContentType ContentType `json:"content_type"`
	Text        string      `json:"text,omitempty"`
	Caption     string      `json:"caption,omitempty"`
	FileData    string      `json:"file_data,omitempty"` // base64
	FileName    string      `json:"file_name,omitempty"`
	MimeType    string      `json:"mime_type,omitempty"`
}

// IsText reports whether the envelope is directly injectable text
// (authored or transcribed speech).
func (e *Envelope) IsText() bool {
	return e.ContentType == ContentText || e.ContentType == ContentVoiceTranscribed
}

// HasFile reports whether the envelope carries file content of a recognized
// content type.
func (e *Envelope) HasFile() bool {
	switch e.ContentType {
	case ContentFile, ContentImage, ContentVoiceAudio:
		return e.FileData != ""
	}
	return false
}

// Validate rejects envelopes whose shape cannot be processed. Unrecognized
// or incomplete envelopes are dropped at ingestion, never enqueued.
func (e *Envelope) Validate() error {
	switch e.ContentType {
	case ContentText, ContentVoiceTranscribed:
		if e.Text == "" {
			return fmt.Errorf("envelope: %s without text", e.ContentType)
		}
	case ContentFile, ContentImage, ContentVoiceAudio:
		if e.FileData == "" {
			return fmt.Errorf("envelope: %s without file_data", e.ContentType)
		}
		if _, err := base64.StdEncoding.DecodeString(e.FileData); err != nil {
			return fmt.Errorf("envelope: file_data is not valid base64: %w", err)
		}
	default:
		return fmt.Errorf("envelope: unrecognized content_type %q", e.ContentType)
	}
	return nil
}

// SetFile stores raw bytes as the base64 attachment payload.
func (e *Envelope) SetFile(data []byte) {
	e.FileData = base64.StdEncoding.EncodeToString(data)
}

// DecodeFile returns the decoded attachment payload.
func (e *Envelope) DecodeFile() ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(e.FileData)
	if err != nil {
		return nil, fmt.Errorf("decode file_data: %w", err)
	}
	return data, nil
}
