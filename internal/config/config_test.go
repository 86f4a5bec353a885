package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadRequiresBotToken(t *testing.T) {
	t.Setenv("GATEKEEPER_BOT_TOKEN", "")
	t.Setenv("GATEKEEPER_ADMIN_GROUP_ID", "-100200")
	t.Setenv("GATEKEEPER_TARGET_GROUP_ID", "-100300")

	if _, err := Load(); err == nil {
		t.Fatal("Load without bot token should fail")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("GATEKEEPER_BOT_TOKEN", "tok")
	t.Setenv("GATEKEEPER_ADMIN_GROUP_ID", "-100200")
	t.Setenv("GATEKEEPER_TARGET_GROUP_ID", "-100300")
	t.Setenv("GATEKEEPER_PORT", "5555")
	t.Setenv("GATEKEEPER_LOG_LEVEL", "debug")
	t.Setenv("GATEKEEPER_LOCAL_BOT_API_URL", "http://127.0.0.1:8081")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 5555 {
		t.Errorf("port = %d, want 5555", cfg.Server.Port)
	}
	if cfg.Telegram.AdminGroupID != -100200 || cfg.Telegram.TargetGroupID != -100300 {
		t.Errorf("group IDs = %d / %d", cfg.Telegram.AdminGroupID, cfg.Telegram.TargetGroupID)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("log level = %q", cfg.Log.Level)
	}
	if cfg.Telegram.LocalAPIURL != "http://127.0.0.1:8081" {
		t.Errorf("local API URL = %q", cfg.Telegram.LocalAPIURL)
	}
	if len(cfg.Survey.Questions) != len(defaultQuestions) {
		t.Errorf("expected built-in questions, got %d", len(cfg.Survey.Questions))
	}
}

func TestLoadQuestionsFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "questions.yaml")
	content := "questions:\n  - First?\n  - Second?\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	questions, err := LoadQuestions(path)
	if err != nil {
		t.Fatalf("LoadQuestions: %v", err)
	}
	if len(questions) != 2 || questions[0] != "First?" || questions[1] != "Second?" {
		t.Errorf("questions = %v", questions)
	}
}

func TestLoadQuestionsRejectsBlank(t *testing.T) {
	path := filepath.Join(t.TempDir(), "questions.yaml")
	if err := os.WriteFile(path, []byte("questions:\n  - First?\n  - \"\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadQuestions(path); err == nil {
		t.Fatal("blank question should be rejected")
	}
}
