package response

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Authentication ────────────────────────────────────────────────
	ErrTokenRequired ErrCode = "TOKEN_REQUIRED"
	ErrTokenInvalid  ErrCode = "TOKEN_INVALID"

	// ─── Authorization ─────────────────────────────────────────────────
	ErrStudentAccessOnly ErrCode = "STUDENT_ACCESS_ONLY"

	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation     ErrCode = "VALIDATION_ERROR"
	ErrInvalidID      ErrCode = "INVALID_ID"
	ErrInvalidPayload ErrCode = "INVALID_PAYLOAD"

	// ─── Exam session ──────────────────────────────────────────────────
	ErrSessionNotOpen      ErrCode = "SESSION_NOT_OPEN"
	ErrSessionFinished     ErrCode = "SESSION_FINISHED"
	ErrAttemptRedirect     ErrCode = "ATTEMPT_REDIRECT"
	ErrQuestionNotInExam   ErrCode = "QUESTION_NOT_IN_EXAM"
	ErrLanguageNotAllowed  ErrCode = "LANGUAGE_NOT_ALLOWED"
	ErrQuestionsUnavail    ErrCode = "QUESTIONS_UNAVAILABLE"
	ErrDurationUnavailable ErrCode = "DURATION_UNAVAILABLE"
	ErrUnansweredConfirm   ErrCode = "UNANSWERED_CONFIRMATION_REQUIRED"
	ErrSubmitInFlight      ErrCode = "SUBMIT_IN_FLIGHT"
	ErrSubmitFailed        ErrCode = "SUBMIT_FAILED"
	ErrUnknownSecurityKind ErrCode = "UNKNOWN_SECURITY_EVENT"
	ErrProgressNotSaved    ErrCode = "PROGRESS_NOT_SAVED"

	// ─── Rate Limiting ─────────────────────────────────────────────────
	ErrRateLimitExceeded ErrCode = "RATE_LIMIT_EXCEEDED"

	// ─── Server ────────────────────────────────────────────────────────
	ErrInternal ErrCode = "INTERNAL_ERROR"
)

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	switch code {
	// ─── Authentication ────────────────────────────────────────────────
	case ErrTokenRequired:
		return "Token autentikasi diperlukan."
	case ErrTokenInvalid:
		return "Token autentikasi tidak valid."

	// ─── Authorization ─────────────────────────────────────────────────
	case ErrStudentAccessOnly:
		return "Sumber daya ini terbatas untuk siswa."

	// ─── Validation ────────────────────────────────────────────────────
	case ErrValidation:
		return "Validasi gagal. Silakan periksa masukan Anda."
	case ErrInvalidID:
		return "Format ID tidak valid."
	case ErrInvalidPayload:
		return "Payload permintaan tidak valid."

	// ─── Exam session ──────────────────────────────────────────────────
	case ErrSessionNotOpen:
		return "Sesi ujian belum dibuka."
	case ErrSessionFinished:
		return "Sesi ujian telah berakhir."
	case ErrAttemptRedirect:
		return "Ujian tidak dapat dilanjutkan. Anda akan diarahkan ke dasbor."
	case ErrQuestionNotInExam:
		return "Soal tidak termasuk dalam ujian ini."
	case ErrLanguageNotAllowed:
		return "Bahasa pemrograman hanya dapat dipilih untuk soal kode."
	case ErrQuestionsUnavail:
		return "Soal ujian gagal dimuat. Silakan coba lagi."
	case ErrDurationUnavailable:
		return "Durasi ujian tidak tersedia."
	case ErrUnansweredConfirm:
		return "Masih ada soal yang belum dijawab. Konfirmasi untuk tetap mengumpulkan."
	case ErrSubmitInFlight:
		return "Ujian sedang dikumpulkan."
	case ErrSubmitFailed:
		return "Gagal mengumpulkan ujian. Anda akan diarahkan ke dasbor."
	case ErrUnknownSecurityKind:
		return "Jenis kejadian keamanan tidak dikenal."
	case ErrProgressNotSaved:
		return "Jawaban gagal disimpan di perangkat ini."

	// ─── Rate Limiting ─────────────────────────────────────────────────
	case ErrRateLimitExceeded:
		return "Terlalu banyak permintaan. Silakan coba lagi nanti."

	// ─── Server ────────────────────────────────────────────────────────
	case ErrInternal:
		return "Terjadi kesalahan server internal."
	default:
		return "Terjadi kesalahan yang tidak terduga."
	}
}
