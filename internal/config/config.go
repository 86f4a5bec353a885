package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

type Config struct {
	Server     ServerConfig
	Telegram   TelegramConfig
	Storage    StorageConfig
	Survey     SurveyConfig
	Transcribe TranscribeConfig
	Summarizer SummarizerConfig
	Drive      DriveConfig
	Log        LogConfig
}

type ServerConfig struct {
	Port     int
	APIToken string
}

type TelegramConfig struct {
	BotToken      string
	AdminGroupID  int64
	TargetGroupID int64
	BaseURL       string
	// LocalAPIURL points at a self-hosted Bot API server used as the
	// fallback channel for files over BotAPIFileLimit. Empty disables
	// the fallback path.
	LocalAPIURL string
	// MaxAudioFileBytes is the upper bound accepted for transcription inputs.
	MaxAudioFileBytes int64
	// BotAPIFileLimit is the largest download the primary Bot API channel
	// serves before the fallback transfer path takes over.
	BotAPIFileLimit int64
}

type StorageConfig struct {
	DataDir           string
	AudioDir          string
	TranscriptionsDir string
	InsightsDir       string
}

type SurveyConfig struct {
	// QuestionsFile optionally overrides the built-in question list (YAML).
	QuestionsFile string
	Questions     []string
}

type TranscribeConfig struct {
	// WhisperURL points at a whisper.cpp server exposing /inference.
	WhisperURL     string
	Language       string
	ChunkSeconds   int
	OverlapSeconds int
	SampleRate     int
}

type SummarizerConfig struct {
	APIKey  string
	Model   string
	BaseURL string
	// ChunkChars is the transcript slice fed to one summarizer call,
	// sized at roughly 32k tokens.
	ChunkChars int
	CallDelay  time.Duration
}

type DriveConfig struct {
	BaseURL             string
	AccessToken         string
	MainFolderID        string
	TranscriptsFolderID string
	InsightsFolderID    string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4600,
		},
		Telegram: TelegramConfig{
			BaseURL:           "https://api.telegram.org",
			MaxAudioFileBytes: 200 << 20,
			BotAPIFileLimit:   20 << 20,
		},
		Storage: StorageConfig{
			DataDir:           defaultDataDir(),
			AudioDir:          "audios",
			TranscriptionsDir: "transcriptions",
			InsightsDir:       "discussion_insights",
		},
		Survey: SurveyConfig{
			Questions: defaultQuestions,
		},
		Transcribe: TranscribeConfig{
			WhisperURL:     "http://127.0.0.1:8080",
			Language:       "en",
			ChunkSeconds:   30,
			OverlapSeconds: 3,
			SampleRate:     16000,
		},
		Summarizer: SummarizerConfig{
			Model:      "gemini-2.5-flash",
			BaseURL:    "https://generativelanguage.googleapis.com",
			ChunkChars: 32000 * 4,
			CallDelay:  10 * time.Second,
		},
		Drive: DriveConfig{
			BaseURL: "https://www.googleapis.com",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func defaultDataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "gatekeeper")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "data"
	}
	return filepath.Join(home, ".local", "share", "gatekeeper")
}

// Load builds configuration from defaults, GATEKEEPER_* environment
// variables, and the optional survey questions file. Required secrets are
// validated here so the process fails at startup, not mid-flow.
func Load() (Config, error) {
	cfg := defaults()
	applyEnvOverrides(&cfg)

	if cfg.Telegram.BotToken == "" {
		return Config{}, fmt.Errorf("missing required config: bot token (set GATEKEEPER_BOT_TOKEN)")
	}
	if cfg.Telegram.AdminGroupID == 0 {
		return Config{}, fmt.Errorf("missing required config: admin group ID (set GATEKEEPER_ADMIN_GROUP_ID)")
	}
	if cfg.Telegram.TargetGroupID == 0 {
		return Config{}, fmt.Errorf("missing required config: target group ID (set GATEKEEPER_TARGET_GROUP_ID)")
	}

	if cfg.Survey.QuestionsFile != "" {
		questions, err := LoadQuestions(cfg.Survey.QuestionsFile)
		if err != nil {
			return Config{}, fmt.Errorf("loading survey questions: %w", err)
		}
		cfg.Survey.Questions = questions
	}
	if len(cfg.Survey.Questions) == 0 {
		return Config{}, fmt.Errorf("survey question list is empty")
	}

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	setString(&cfg.Telegram.BotToken, "GATEKEEPER_BOT_TOKEN")
	setInt64(&cfg.Telegram.AdminGroupID, "GATEKEEPER_ADMIN_GROUP_ID")
	setInt64(&cfg.Telegram.TargetGroupID, "GATEKEEPER_TARGET_GROUP_ID")
	setString(&cfg.Telegram.BaseURL, "GATEKEEPER_TELEGRAM_BASE_URL")
	setString(&cfg.Telegram.LocalAPIURL, "GATEKEEPER_LOCAL_BOT_API_URL")
	setInt64(&cfg.Telegram.MaxAudioFileBytes, "GATEKEEPER_MAX_AUDIO_BYTES")

	setInt(&cfg.Server.Port, "GATEKEEPER_PORT")
	setString(&cfg.Server.APIToken, "GATEKEEPER_API_TOKEN")

	setString(&cfg.Storage.DataDir, "GATEKEEPER_DATA_DIR")

	setString(&cfg.Survey.QuestionsFile, "GATEKEEPER_QUESTIONS_FILE")

	setString(&cfg.Transcribe.WhisperURL, "GATEKEEPER_WHISPER_URL")
	setString(&cfg.Transcribe.Language, "GATEKEEPER_LANGUAGE")

	setString(&cfg.Summarizer.APIKey, "GATEKEEPER_GEMINI_API_KEY")
	setString(&cfg.Summarizer.Model, "GATEKEEPER_GEMINI_MODEL")
	setString(&cfg.Summarizer.BaseURL, "GATEKEEPER_GEMINI_BASE_URL")

	setString(&cfg.Drive.AccessToken, "GATEKEEPER_DRIVE_TOKEN")
	setString(&cfg.Drive.BaseURL, "GATEKEEPER_DRIVE_BASE_URL")
	setString(&cfg.Drive.MainFolderID, "GATEKEEPER_DRIVE_MAIN_FOLDER")
	setString(&cfg.Drive.TranscriptsFolderID, "GATEKEEPER_DRIVE_TRANSCRIPTS_FOLDER")
	setString(&cfg.Drive.InsightsFolderID, "GATEKEEPER_DRIVE_INSIGHTS_FOLDER")

	setString(&cfg.Log.Level, "GATEKEEPER_LOG_LEVEL")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}
