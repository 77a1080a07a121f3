package config

import (
	"reflect"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"SERVER_PORT", "BACKEND_URL", "SESSION_BACKEND", "DEFAULT_EXAM_SECONDS", "MAX_VIOLATIONS", "REDIRECT_DELAY_MS", "SUBMIT_RETRIES", "STRICT_DURATION", "ALLOWED_ORIGINS"} {
		t.Setenv(key, "")
	}

	cfg := Load()
	if cfg.ServerPort != "8090" {
		t.Errorf("ServerPort = %q", cfg.ServerPort)
	}
	if cfg.SessionBackend != SessionBackendMemory {
		t.Errorf("SessionBackend = %q", cfg.SessionBackend)
	}
	if cfg.DefaultExamDuration != time.Hour {
		t.Errorf("DefaultExamDuration = %v", cfg.DefaultExamDuration)
	}
	if cfg.MaxViolations != 5 || cfg.SubmitRetries != 2 || cfg.StrictDuration {
		t.Errorf("policy = max %d retries %d strict %v", cfg.MaxViolations, cfg.SubmitRetries, cfg.StrictDuration)
	}
	if cfg.RedirectDelay != 3*time.Second {
		t.Errorf("RedirectDelay = %v", cfg.RedirectDelay)
	}
	if cfg.AllowedOrigins != nil {
		t.Errorf("AllowedOrigins = %v, want nil", cfg.AllowedOrigins)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("BACKEND_URL", "https://exstem.example/api/v1/")
	t.Setenv("SESSION_BACKEND", "redis")
	t.Setenv("SESSION_TTL_HOURS", "6")
	t.Setenv("DEFAULT_EXAM_SECONDS", "5400")
	t.Setenv("STRICT_DURATION", "true")
	t.Setenv("MAX_VIOLATIONS", "3")
	t.Setenv("SUBMIT_RETRIES", "not-a-number")
	t.Setenv("VIOLATION_ARCHIVE", "1")
	t.Setenv("ALLOWED_ORIGINS", " https://a.example , ,https://b.example")

	cfg := Load()
	if cfg.BackendURL != "https://exstem.example/api/v1" {
		t.Errorf("BackendURL = %q, want trailing slash trimmed", cfg.BackendURL)
	}
	if cfg.SessionBackend != SessionBackendRedis || cfg.SessionTTL != 6*time.Hour {
		t.Errorf("session = %q ttl %v", cfg.SessionBackend, cfg.SessionTTL)
	}
	if cfg.DefaultExamDuration != 90*time.Minute || !cfg.StrictDuration {
		t.Errorf("duration = %v strict %v", cfg.DefaultExamDuration, cfg.StrictDuration)
	}
	if cfg.MaxViolations != 3 {
		t.Errorf("MaxViolations = %d", cfg.MaxViolations)
	}
	if cfg.SubmitRetries != 2 {
		t.Errorf("SubmitRetries = %d, want fallback 2", cfg.SubmitRetries)
	}
	if !cfg.ViolationArchive {
		t.Error("ViolationArchive not enabled")
	}
	if want := []string{"https://a.example", "https://b.example"}; !reflect.DeepEqual(cfg.AllowedOrigins, want) {
		t.Errorf("AllowedOrigins = %v, want %v", cfg.AllowedOrigins, want)
	}
}

func TestStorageKeys(t *testing.T) {
	const exam = "e1"
	k := StorageKey

	cases := map[string]string{
		k.AttemptKey(exam):    "exam_e1_attempt",
		k.AnswersKey(exam):    "exam_e1_answers",
		k.FlagsKey(exam):      "exam_e1_flags",
		k.LanguagesKey(exam):  "exam_e1_languages",
		k.TimeLeftKey(exam):   "exam_e1_time_left",
		k.EndTimeKey(exam):    "exam_e1_end_time",
		k.TransitionKey(exam): "exam_transition_e1",
		k.CompletedKey(exam):  "exam_e1_completed",
	}
	for got, want := range cases {
		if got != want {
			t.Errorf("key = %q, want %q", got, want)
		}
	}

	if n := len(k.SessionKeys(exam)); n != 7 {
		t.Errorf("SessionKeys has %d keys, want 7", n)
	}
	for _, key := range k.SessionKeys(exam) {
		if key == k.CompletedKey(exam) {
			t.Error("completion marker listed as a session key")
		}
	}
	if got := k.StudentNamespace("durable", 7); got != "student:7:durable:" {
		t.Errorf("StudentNamespace = %q", got)
	}
}
