package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for the domain layer.
var (
	ErrRecordNotFound  = fmt.Errorf("record not found")
	ErrRecordExists    = fmt.Errorf("record already exists")
	ErrKeyNotFound     = fmt.Errorf("api key not found")
	ErrInvalidInput    = fmt.Errorf("invalid input")
	ErrRateLimit       = fmt.Errorf("rate limit exceeded")
	ErrTimeout         = fmt.Errorf("operation timed out")
	ErrOracleCall      = fmt.Errorf("oracle call failed")
	ErrOracleParse     = fmt.Errorf("oracle output unparseable")
	ErrEmbeddingFailed = fmt.Errorf("embedding generation failed")
	ErrRecordStore     = fmt.Errorf("record store operation failed")
	ErrIndexBuild      = fmt.Errorf("vector index build failed")
	ErrIndexLoad       = fmt.Errorf("vector index load failed")
	ErrJobRunning      = fmt.Errorf("job already running")
	ErrConfigLoad      = fmt.Errorf("failed to load configuration")
)

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op     string // operation name (e.g., "Ranker.Run")
	Err    error  // underlying sentinel or wrapped error
	Detail string // human-readable detail
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// OracleParseError reports oracle output that failed JSON extraction or
// schema validation. It carries the raw response for provenance storage.
type OracleParseError struct {
	Stage  string // "parse", "classify", "dedupe"
	Raw    string // raw model output, truncated by caller if needed
	Reason string
}

func (e *OracleParseError) Error() string {
	return fmt.Sprintf("oracle %s output invalid: %s", e.Stage, e.Reason)
}

func (e *OracleParseError) Unwrap() error { return ErrOracleParse }

// IsRetryableError reports whether err is transient and worth retrying on
// the next scheduled pass. Schema-invalid output is retryable too: the
// record lands in parse_failed and a later model run may do better.
func IsRetryableError(err error) bool {
	return errors.Is(err, ErrOracleCall) ||
		errors.Is(err, ErrOracleParse) ||
		errors.Is(err, ErrEmbeddingFailed) ||
		errors.Is(err, ErrTimeout)
}

// ErrorCode is a machine-parseable error category for monitoring.
type ErrorCode string

const (
	CodeUnknown         ErrorCode = "UNKNOWN"
	CodeRecordNotFound  ErrorCode = "RECORD_NOT_FOUND"
	CodeRecordExists    ErrorCode = "RECORD_EXISTS"
	CodeKeyNotFound     ErrorCode = "KEY_NOT_FOUND"
	CodeInvalidInput    ErrorCode = "INVALID_INPUT"
	CodeRateLimit       ErrorCode = "RATE_LIMIT"
	CodeTimeout         ErrorCode = "TIMEOUT"
	CodeOracleCall      ErrorCode = "ORACLE_CALL"
	CodeOracleParse     ErrorCode = "ORACLE_PARSE"
	CodeEmbeddingFailed ErrorCode = "EMBEDDING_FAILED"
	CodeRecordStore     ErrorCode = "RECORD_STORE"
	CodeIndexBuild      ErrorCode = "INDEX_BUILD"
	CodeIndexLoad       ErrorCode = "INDEX_LOAD"
	CodeJobRunning      ErrorCode = "JOB_RUNNING"
	CodeConfigLoad      ErrorCode = "CONFIG_LOAD"
)

// errorCodeMap maps sentinel errors to their machine-parseable codes.
var errorCodeMap = map[error]ErrorCode{
	ErrRecordNotFound:  CodeRecordNotFound,
	ErrRecordExists:    CodeRecordExists,
	ErrKeyNotFound:     CodeKeyNotFound,
	ErrInvalidInput:    CodeInvalidInput,
	ErrRateLimit:       CodeRateLimit,
	ErrTimeout:         CodeTimeout,
	ErrOracleCall:      CodeOracleCall,
	ErrOracleParse:     CodeOracleParse,
	ErrEmbeddingFailed: CodeEmbeddingFailed,
	ErrRecordStore:     CodeRecordStore,
	ErrIndexBuild:      CodeIndexBuild,
	ErrIndexLoad:       CodeIndexLoad,
	ErrJobRunning:      CodeJobRunning,
	ErrConfigLoad:      CodeConfigLoad,
}

// ErrorCodeOf returns the machine-parseable error code for the given error.
// It unwraps DomainError and uses errors.Is to match sentinel errors.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}

	if code, ok := errorCodeMap[err]; ok {
		return code
	}

	var de *DomainError
	if errors.As(err, &de) {
		if code, ok := errorCodeMap[de.Err]; ok {
			return code
		}
	}

	for sentinel, code := range errorCodeMap {
		if errors.Is(err, sentinel) {
			return code
		}
	}

	return CodeUnknown
}
