package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-examclient/internal/model"
	"github.com/stemsi/exstem-examclient/internal/repository"
)

var (
	ErrUnknownQuestion   = errors.New("question is not part of this exam")
	ErrLanguageNotCoding = errors.New("language can only be chosen for code questions")
	ErrPersist           = errors.New("failed to persist exam progress")
)

// Ledger holds the answers, flags and language choices of the active
// attempt and mirrors every mutation to session storage before returning.
type Ledger struct {
	state     *repository.ExamState
	questions map[int]model.Question
	order     []int
	log       zerolog.Logger

	mu        sync.Mutex
	answers   map[int]model.Answer
	flags     map[int]struct{}
	languages map[int]string
}

// NewLedger creates an empty ledger over the exam's questions.
func NewLedger(state *repository.ExamState, questions []model.Question, log zerolog.Logger) *Ledger {
	l := &Ledger{
		state:     state,
		questions: make(map[int]model.Question, len(questions)),
		order:     make([]int, 0, len(questions)),
		log:       log.With().Str("component", "ledger").Str("exam_id", state.ExamID()).Logger(),
		answers:   make(map[int]model.Answer),
		flags:     make(map[int]struct{}),
		languages: make(map[int]string),
	}
	for _, q := range questions {
		if _, dup := l.questions[q.ID]; dup {
			continue
		}
		l.questions[q.ID] = q
		l.order = append(l.order, q.ID)
	}
	return l
}

// Restore loads previously mirrored state. Malformed entries come back empty.
func (l *Ledger) Restore(ctx context.Context) {
	answers := l.state.Answers(ctx)
	flags := l.state.Flags(ctx)
	languages := l.state.Languages(ctx)

	l.mu.Lock()
	defer l.mu.Unlock()

	l.answers = answers
	l.flags = make(map[int]struct{}, len(flags))
	for _, id := range flags {
		l.flags[id] = struct{}{}
	}
	l.languages = languages

	l.log.Debug().Int("answers", len(answers)).Int("flags", len(flags)).Msg("Ledger restored")
}

func (l *Ledger) known(questionID int) (model.Question, bool) {
	if len(l.questions) == 0 {
		return model.Question{ID: questionID}, true
	}
	q, ok := l.questions[questionID]
	return q, ok
}

// RecordAnswer replaces the answer to one question.
func (l *Ledger) RecordAnswer(ctx context.Context, questionID int, answer model.Answer) error {
	if _, ok := l.known(questionID); !ok {
		return ErrUnknownQuestion
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if answer.Language == nil {
		if lang, ok := l.languages[questionID]; ok {
			answer.Language = &lang
		}
	}
	l.answers[questionID] = answer
	return l.persist(l.state.SaveAnswers(ctx, l.answers))
}

// ToggleFlag flips the review flag of a question and returns its new value.
func (l *Ledger) ToggleFlag(ctx context.Context, questionID int) (bool, error) {
	if _, ok := l.known(questionID); !ok {
		return false, ErrUnknownQuestion
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	_, flagged := l.flags[questionID]
	if flagged {
		delete(l.flags, questionID)
	} else {
		l.flags[questionID] = struct{}{}
	}
	return !flagged, l.persist(l.state.SaveFlags(ctx, l.flagList()))
}

// SelectLanguage records the programming language of a code question.
func (l *Ledger) SelectLanguage(ctx context.Context, questionID int, language string) error {
	q, ok := l.known(questionID)
	if !ok {
		return ErrUnknownQuestion
	}
	if q.QuestionType != "" && q.QuestionType != model.QuestionTypeCode {
		return ErrLanguageNotCoding
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.languages[questionID] = language
	err := l.state.SaveLanguages(ctx, l.languages)
	if a, ok := l.answers[questionID]; ok {
		a.Language = &language
		l.answers[questionID] = a
		err = errors.Join(err, l.state.SaveAnswers(ctx, l.answers))
	}
	return l.persist(err)
}

// Flush re-mirrors the whole ledger. Called on page hide and before unload.
func (l *Ledger) Flush(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.persist(errors.Join(
		l.state.SaveAnswers(ctx, l.answers),
		l.state.SaveFlags(ctx, l.flagList()),
		l.state.SaveLanguages(ctx, l.languages),
	))
}

func (l *Ledger) persist(err error) error {
	if err == nil {
		return nil
	}
	l.log.Error().Err(err).Msg("Mirror ledger to storage")
	return fmt.Errorf("%w: %w", ErrPersist, err)
}

// flagList must be called with mu held.
func (l *Ledger) flagList() []int {
	ids := make([]int, 0, len(l.flags))
	for id := range l.flags {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// ─── Read side ──────────────────────────────────────────────────────────────

// Questions returns the exam's questions in server order.
func (l *Ledger) Questions() []model.Question {
	out := make([]model.Question, 0, len(l.order))
	for _, id := range l.order {
		out = append(out, l.questions[id])
	}
	return out
}

// Total is the number of questions in the exam.
func (l *Ledger) Total() int {
	return len(l.order)
}

// Answers returns a copy of the answer map.
func (l *Ledger) Answers() map[int]model.Answer {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[int]model.Answer, len(l.answers))
	for id, a := range l.answers {
		out[id] = a
	}
	return out
}

// Flags returns the flagged question ids in ascending order.
func (l *Ledger) Flags() []int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.flagList()
}

// Languages returns a copy of the language choices.
func (l *Ledger) Languages() map[int]string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[int]string, len(l.languages))
	for id, lang := range l.languages {
		out[id] = lang
	}
	return out
}

// Answered reports whether one question counts as answered for its type.
func (l *Ledger) Answered(questionID int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.answers[questionID].AnsweredAs(l.questions[questionID].QuestionType)
}

// AnsweredCount counts the exam's questions that are answered.
func (l *Ledger) AnsweredCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, id := range l.order {
		if l.answers[id].AnsweredAs(l.questions[id].QuestionType) {
			n++
		}
	}
	return n
}

// Statuses derives the navigator entry of every question.
func (l *Ledger) Statuses() []model.QuestionStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]model.QuestionStatus, 0, len(l.order))
	for _, id := range l.order {
		_, flagged := l.flags[id]
		out = append(out, model.QuestionStatus{
			QuestionID: id,
			Answered:   l.answers[id].AnsweredAs(l.questions[id].QuestionType),
			Flagged:    flagged,
			Language:   l.languages[id],
		})
	}
	return out
}

// Submission assembles the payload for attemptID from the current ledger.
func (l *Ledger) Submission(attemptID string) model.SubmitExamRequest {
	l.mu.Lock()
	defer l.mu.Unlock()
	return BuildSubmission(attemptID, l.questions, l.answers, l.languages)
}

// BuildSubmission keeps only answered entries and shapes each by its
// question's type. Entries for unknown questions are sent as stored.
func BuildSubmission(attemptID string, questions map[int]model.Question, answers map[int]model.Answer, languages map[int]string) model.SubmitExamRequest {
	ids := make([]int, 0, len(answers))
	for id, a := range answers {
		if a.AnsweredAs(questions[id].QuestionType) {
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)

	out := make([]model.SubmissionAnswer, 0, len(ids))
	for _, id := range ids {
		a := answers[id]
		entry := model.SubmissionAnswer{AttemptID: attemptID, QuestionID: id}

		switch questions[id].QuestionType {
		case model.QuestionTypeMCQ:
			entry.SelectedOptions = a.SelectedOptions
		case model.QuestionTypeOpen:
			entry.AnswerText = a.AnswerText
		case model.QuestionTypeCode:
			entry.AnswerText = a.AnswerText
			entry.Language = a.Language
			if entry.Language == nil {
				if lang, ok := languages[id]; ok {
					entry.Language = &lang
				}
			}
		default:
			entry.AnswerText = a.AnswerText
			entry.SelectedOptions = a.SelectedOptions
			entry.Language = a.Language
		}

		out = append(out, entry)
	}

	return model.SubmitExamRequest{AttemptID: attemptID, Answers: out}
}
