package config

import (
	"fmt"
)

// StorageKeyStruct builds every key the exam client reads or writes.
// Per-exam keys always carry the exam id; only the security flags below are
// global, since a student has at most one exam in progress at a time.
type StorageKeyStruct struct {
	Accepted       string
	Violations     string
	ShowWarning    string
	BrowserFocused string
}

func NewStorageKeyStruct() *StorageKeyStruct {
	return &StorageKeyStruct{
		Accepted:       "examAccepted",
		Violations:     "examViolations",
		ShowWarning:    "examShowWarning",
		BrowserFocused: "examBrowserFocused",
	}
}

// AttemptKey returns the session key holding the active attempt id
func (k *StorageKeyStruct) AttemptKey(examID string) string {
	return fmt.Sprintf("exam_%s_attempt", examID)
}

// AnswersKey returns the session key holding the answer ledger
func (k *StorageKeyStruct) AnswersKey(examID string) string {
	return fmt.Sprintf("exam_%s_answers", examID)
}

// FlagsKey returns the session key holding the flagged question ids
func (k *StorageKeyStruct) FlagsKey(examID string) string {
	return fmt.Sprintf("exam_%s_flags", examID)
}

// LanguagesKey returns the session key holding per-question languages
func (k *StorageKeyStruct) LanguagesKey(examID string) string {
	return fmt.Sprintf("exam_%s_languages", examID)
}

// TimeLeftKey returns the session key caching the remaining seconds
func (k *StorageKeyStruct) TimeLeftKey(examID string) string {
	return fmt.Sprintf("exam_%s_time_left", examID)
}

// EndTimeKey returns the session key holding the deadline in epoch seconds
func (k *StorageKeyStruct) EndTimeKey(examID string) string {
	return fmt.Sprintf("exam_%s_end_time", examID)
}

// TransitionKey returns the session key of the explicit-start marker
func (k *StorageKeyStruct) TransitionKey(examID string) string {
	return fmt.Sprintf("exam_transition_%s", examID)
}

// CompletedKey returns the durable key marking an exam as submitted
func (k *StorageKeyStruct) CompletedKey(examID string) string {
	return fmt.Sprintf("exam_%s_completed", examID)
}

// SessionKeys lists every session-scoped key of one exam.
func (k *StorageKeyStruct) SessionKeys(examID string) []string {
	return []string{
		k.AttemptKey(examID),
		k.AnswersKey(examID),
		k.FlagsKey(examID),
		k.LanguagesKey(examID),
		k.TimeLeftKey(examID),
		k.EndTimeKey(examID),
		k.TransitionKey(examID),
	}
}

// SecurityKeys lists the global durable security flags.
func (k *StorageKeyStruct) SecurityKeys() []string {
	return []string{k.Accepted, k.Violations, k.ShowWarning, k.BrowserFocused}
}

// StudentNamespace returns the backend prefix isolating one student's storage
func (k *StorageKeyStruct) StudentNamespace(scope string, studentID int) string {
	return fmt.Sprintf("student:%d:%s:", studentID, scope)
}

// SessionEventsChannel returns the Redis PubSub channel for a student's exam events
func (k *StorageKeyStruct) SessionEventsChannel(examID string, studentID int) string {
	return fmt.Sprintf("student:%d:exam:%s:events", studentID, examID)
}

var StorageKey = NewStorageKeyStruct()
