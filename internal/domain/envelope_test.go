package domain

import (
	"encoding/base64"
	"testing"
)

func TestEnvelope_Validate(t *testing.T) {
	valid := base64.StdEncoding.EncodeToString([]byte("payload"))

	tests := []struct {
		name    string
		env     Envelope
		wantErr bool
	}{
		{"text", Envelope{ContentType: ContentText, Text: "hi"}, false},
		{"transcribed voice", Envelope{ContentType: ContentVoiceTranscribed, Text: "hi"}, false},
		{"text without body", Envelope{ContentType: ContentText}, true},
		{"file", Envelope{ContentType: ContentFile, FileData: valid}, false},
		{"image", Envelope{ContentType: ContentImage, FileData: valid}, false},
		{"voice audio", Envelope{ContentType: ContentVoiceAudio, FileData: valid}, false},
		{"file without data", Envelope{ContentType: ContentFile}, true},
		{"file with bad base64", Envelope{ContentType: ContentFile, FileData: "!!not-base64!!"}, true},
		{"unrecognized type", Envelope{ContentType: "sticker", Text: "x"}, true},
		{"empty type", Envelope{Text: "x"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.env.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() err = %v, wantErr = %v", err, tt.wantErr)
			}
		})
	}
}

func TestEnvelope_IsText(t *testing.T) {
	if !(&Envelope{ContentType: ContentText}).IsText() {
		t.Fatal("text should be text")
	}
	if !(&Envelope{ContentType: ContentVoiceTranscribed}).IsText() {
		t.Fatal("transcribed voice should be injectable text")
	}
	if (&Envelope{ContentType: ContentVoiceAudio}).IsText() {
		t.Fatal("raw voice audio is not text")
	}
}

func TestEnvelope_HasFile(t *testing.T) {
	env := Envelope{ContentType: ContentImage}
	if env.HasFile() {
		t.Fatal("image without data has no file")
	}
	env.SetFile([]byte("bytes"))
	if !env.HasFile() {
		t.Fatal("image with data has a file")
	}
	text := Envelope{ContentType: ContentText, Text: "x"}
	if text.HasFile() {
		t.Fatal("text never has a file")
	}
}

func TestEnvelope_FileRoundTrip(t *testing.T) {
	env := Envelope{ContentType: ContentFile, FileName: "doc.pdf"}
	payload := []byte{0x25, 0x50, 0x44, 0x46}
	env.SetFile(payload)

	got, err := env.DecodeFile()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if string(got) != string(payload) {
		t.Fatalf("got %v, want %v", got, payload)
	}
}
