package response

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Authentication ────────────────────────────────────────────────
	ErrInvalidCredentials ErrCode = "INVALID_CREDENTIALS"
	ErrSessionInvalidated ErrCode = "SESSION_INVALIDATED"
	ErrTokenRequired      ErrCode = "TOKEN_REQUIRED"
	ErrTokenInvalid       ErrCode = "TOKEN_INVALID"
	ErrTokenExpired       ErrCode = "TOKEN_EXPIRED"
	ErrWeakPassword       ErrCode = "WEAK_PASSWORD"

	// ─── Authorization ─────────────────────────────────────────────────
	ErrForbidden    ErrCode = "FORBIDDEN"
	ErrRoleMismatch ErrCode = "ROLE_MISMATCH"

	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation     ErrCode = "VALIDATION_ERROR"
	ErrInvalidID      ErrCode = "INVALID_ID"
	ErrInvalidPayload ErrCode = "INVALID_PAYLOAD"

	// ─── Resources ─────────────────────────────────────────────────────
	ErrNotFound ErrCode = "NOT_FOUND"
	ErrConflict ErrCode = "CONFLICT"

	// ─── Attempt lifecycle ─────────────────────────────────────────────
	ErrTokenMismatch        ErrCode = "TOKEN_MISMATCH"
	ErrWindowClosed         ErrCode = "WINDOW_CLOSED"
	ErrAlreadySubmitted     ErrCode = "ALREADY_SUBMITTED"
	ErrNotInProgress        ErrCode = "NOT_IN_PROGRESS"
	ErrSubmitInFlight       ErrCode = "SUBMIT_IN_FLIGHT"
	ErrIncompleteCorrection ErrCode = "INCOMPLETE_CORRECTION"
	ErrNotUnderCorrection   ErrCode = "NOT_UNDER_CORRECTION"

	// ─── Rate Limiting ─────────────────────────────────────────────────
	ErrRateLimitExceeded ErrCode = "RATE_LIMIT_EXCEEDED"

	// ─── Server ────────────────────────────────────────────────────────
	ErrInternal ErrCode = "INTERNAL_ERROR"
)

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	switch code {
	// ─── Authentication ────────────────────────────────────────────────
	case ErrInvalidCredentials:
		return "Username atau kata sandi salah."
	case ErrSessionInvalidated:
		return "Sesi Anda telah berakhir. Silakan login kembali."
	case ErrTokenRequired:
		return "Token autentikasi diperlukan."
	case ErrTokenInvalid:
		return "Token autentikasi tidak valid."
	case ErrTokenExpired:
		return "Token autentikasi telah kedaluwarsa."
	case ErrWeakPassword:
		return "Kata sandi baru tidak memenuhi ketentuan (minimal 6 karakter)."

	// ─── Authorization ─────────────────────────────────────────────────
	case ErrForbidden:
		return "Anda tidak memiliki izin untuk mengakses sumber daya ini."
	case ErrRoleMismatch:
		return "Halaman ini tidak tersedia untuk peran Anda."

	// ─── Validation ────────────────────────────────────────────────────
	case ErrValidation:
		return "Validasi gagal. Silakan periksa masukan Anda."
	case ErrInvalidID:
		return "Format ID tidak valid."
	case ErrInvalidPayload:
		return "Payload permintaan tidak valid."

	// ─── Resources ─────────────────────────────────────────────────────
	case ErrNotFound:
		return "Sumber daya tidak ditemukan."
	case ErrConflict:
		return "Sumber daya sudah ada."

	// ─── Attempt lifecycle ─────────────────────────────────────────────
	case ErrTokenMismatch:
		return "Token ujian salah."
	case ErrWindowClosed:
		return "Ujian berada di luar jadwal yang ditentukan."
	case ErrAlreadySubmitted:
		return "Anda sudah mengerjakan ujian ini."
	case ErrNotInProgress:
		return "Ujian tidak sedang berlangsung."
	case ErrSubmitInFlight:
		return "Pengumpulan jawaban sedang diproses. Silakan tunggu."
	case ErrIncompleteCorrection:
		return "Semua soal esai harus dinilai sebelum disimpan."
	case ErrNotUnderCorrection:
		return "Hasil ujian ini tidak sedang menunggu koreksi."

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
