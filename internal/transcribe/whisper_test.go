package transcribe

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestWhisperClientTranscribe(t *testing.T) {
	var gotLanguage string
	var gotWAV []byte

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/inference" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parsing form: %v", err)
		}
		gotLanguage = r.FormValue("language")
		f, _, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("form file: %v", err)
		}
		defer f.Close()
		gotWAV, _ = io.ReadAll(f)
		w.Write([]byte(`{"text": " hello there \n"}`))
	}))
	defer srv.Close()

	c := NewWhisperClient(srv.URL, 16000)
	text, err := c.Transcribe(context.Background(), []float32{0, 0.5, -0.5, 1}, "en")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "hello there" {
		t.Errorf("text = %q", text)
	}
	if gotLanguage != "en" {
		t.Errorf("language = %q", gotLanguage)
	}

	if !bytes.HasPrefix(gotWAV, []byte("RIFF")) || !bytes.Equal(gotWAV[8:12], []byte("WAVE")) {
		t.Fatalf("payload is not a WAV file: % x", gotWAV[:12])
	}
	if rate := binary.LittleEndian.Uint32(gotWAV[24:28]); rate != 16000 {
		t.Errorf("sample rate = %d", rate)
	}
	// 4 samples at 16-bit PCM.
	if dataLen := binary.LittleEndian.Uint32(gotWAV[40:44]); dataLen != 8 {
		t.Errorf("data length = %d", dataLen)
	}
}

func TestWhisperClientServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error": "model not loaded"}`))
	}))
	defer srv.Close()

	c := NewWhisperClient(srv.URL, 16000)
	if _, err := c.Transcribe(context.Background(), []float32{0}, "en"); err == nil {
		t.Fatal("expected error")
	}
}

func TestDecodeF32LE(t *testing.T) {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint32(buf[0:], 0x3f800000) // 1.0
	binary.LittleEndian.PutUint32(buf[4:], 0xbf000000) // -0.5
	got := decodeF32LE(buf)
	if len(got) != 2 || got[0] != 1.0 || got[1] != -0.5 {
		t.Errorf("samples = %v", got)
	}
}
