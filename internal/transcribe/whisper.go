package transcribe

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

// WhisperClient sends PCM chunks to a whisper.cpp server for recognition.
type WhisperClient struct {
	baseURL    string
	sampleRate int
	httpClient *http.Client
}

func NewWhisperClient(baseURL string, sampleRate int) *WhisperClient {
	return &WhisperClient{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		sampleRate: sampleRate,
		httpClient: &http.Client{Timeout: 5 * time.Minute},
	}
}

type whisperResponse struct {
	Text  string `json:"text"`
	Error string `json:"error"`
}

func (c *WhisperClient) Transcribe(ctx context.Context, samples []float32, language string) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	part, err := mw.CreateFormFile("file", "chunk.wav")
	if err != nil {
		return "", err
	}
	if _, err := part.Write(encodeWAV(samples, c.sampleRate)); err != nil {
		return "", err
	}
	if err := mw.WriteField("response_format", "json"); err != nil {
		return "", err
	}
	if language != "" {
		if err := mw.WriteField("language", language); err != nil {
			return "", err
		}
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/inference", &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("calling whisper server: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading whisper response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("whisper server returned %d: %s", resp.StatusCode, bytes.TrimSpace(data))
	}

	var wr whisperResponse
	if err := json.Unmarshal(data, &wr); err != nil {
		return "", fmt.Errorf("decoding whisper response: %w", err)
	}
	if wr.Error != "" {
		return "", fmt.Errorf("whisper server: %s", wr.Error)
	}
	return strings.TrimSpace(wr.Text), nil
}

// encodeWAV wraps float32 samples as 16-bit PCM mono WAV.
func encodeWAV(samples []float32, sampleRate int) []byte {
	dataLen := len(samples) * 2
	buf := make([]byte, 0, 44+dataLen)
	w := bytes.NewBuffer(buf)

	w.WriteString("RIFF")
	binary.Write(w, binary.LittleEndian, uint32(36+dataLen))
	w.WriteString("WAVE")

	w.WriteString("fmt ")
	binary.Write(w, binary.LittleEndian, uint32(16))
	binary.Write(w, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(w, binary.LittleEndian, uint16(1)) // mono
	binary.Write(w, binary.LittleEndian, uint32(sampleRate))
	binary.Write(w, binary.LittleEndian, uint32(sampleRate*2))
	binary.Write(w, binary.LittleEndian, uint16(2))
	binary.Write(w, binary.LittleEndian, uint16(16))

	w.WriteString("data")
	binary.Write(w, binary.LittleEndian, uint32(dataLen))
	for _, s := range samples {
		switch {
		case s > 1:
			s = 1
		case s < -1:
			s = -1
		}
		binary.Write(w, binary.LittleEndian, int16(s*32767))
	}
	return w.Bytes()
}
