// Package faults defines the error taxonomy shared by the assistant service.
//
// Every category carries a stable machine-readable code so HTTP handlers and
// channel adapters can map failures to responses without string matching on
// error text. Wrap with fmt.Errorf("...: %w", err) as usual; the As* helpers
// unwrap through chains.
package faults

import (
	"errors"
	"fmt"
	"strings"
)

// Stable error codes surfaced to callers.
const (
	CodeValidation          = "VALIDATION_ERROR"
	CodeProviderTransient   = "PROVIDER_TRANSIENT"
	CodeProviderUnavailable = "PROVIDER_UNAVAILABLE"
	CodeProviderConfig      = "PROVIDER_CONFIG"
	CodePersistence         = "PERSISTENCE_ERROR"
	CodeIngestion           = "INGESTION_ERROR"
)

// ValidationError reports a malformed inbound payload. Never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Reason)
	}
	return fmt.Sprintf("validation failed: field %q: %s", e.Field, e.Reason)
}

func (e *ValidationError) Code() string { return CodeValidation }

// TransientProviderError marks a provider failure worth retrying with backoff
// (rate limits, transient network errors, 5xx responses).
type TransientProviderError struct {
	Provider string
	Err      error
}

func (e *TransientProviderError) Error() string {
	return fmt.Sprintf("provider %s transient failure: %v", e.Provider, e.Err)
}

func (e *TransientProviderError) Unwrap() error { return e.Err }
func (e *TransientProviderError) Code() string  { return CodeProviderTransient }

// ProviderUnavailableError is surfaced once the retry budget for a transient
// provider failure is exhausted.
type ProviderUnavailableError struct {
	Provider string
	Attempts int
	Err      error
}

func (e *ProviderUnavailableError) Error() string {
	return fmt.Sprintf("provider %s unavailable after %d attempts: %v", e.Provider, e.Attempts, e.Err)
}

func (e *ProviderUnavailableError) Unwrap() error { return e.Err }
func (e *ProviderUnavailableError) Code() string  { return CodeProviderUnavailable }

// ProviderConfigError is fatal at startup: missing model names, unknown
// provider selection, or an embedding dimensionality that does not match the
// existing vector collection. The process must refuse to serve.
type ProviderConfigError struct {
	Reason string
}

func (e *ProviderConfigError) Error() string {
	return "provider configuration error: " + e.Reason
}

func (e *ProviderConfigError) Code() string { return CodeProviderConfig }

// PersistenceError reports a context-store failure. Callers degrade to an
// empty conversation instead of failing message delivery.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("context store %s failed: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
func (e *PersistenceError) Code() string  { return CodePersistence }

// IngestionError reports an aborted document ingestion. FailedChunks holds the
// sequence indexes that could not be embedded or written; the document's chunk
// set has been rolled back so nothing partial is queryable.
type IngestionError struct {
	DocumentID   string
	FailedChunks []int
	Err          error
}

func (e *IngestionError) Error() string {
	if len(e.FailedChunks) == 0 {
		return fmt.Sprintf("ingestion of %q aborted: %v", e.DocumentID, e.Err)
	}
	parts := make([]string, len(e.FailedChunks))
	for i, seq := range e.FailedChunks {
		parts[i] = fmt.Sprintf("%d", seq)
	}
	return fmt.Sprintf("ingestion of %q aborted (chunks %s): %v", e.DocumentID, strings.Join(parts, ","), e.Err)
}

func (e *IngestionError) Unwrap() error { return e.Err }
func (e *IngestionError) Code() string  { return CodeIngestion }

// IsTransient reports whether err is (or wraps) a TransientProviderError.
func IsTransient(err error) bool {
	var te *TransientProviderError
	return errors.As(err, &te)
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsPersistence reports whether err is (or wraps) a PersistenceError.
func IsPersistence(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe)
}

// IsProviderUnavailable reports whether err is (or wraps) a ProviderUnavailableError.
func IsProviderUnavailable(err error) bool {
	var ue *ProviderUnavailableError
	return errors.As(err, &ue)
}

// CodeOf returns the stable code for err, or "INTERNAL" when the error does
// not belong to the taxonomy.
func CodeOf(err error) string {
	var coded interface{ Code() string }
	if errors.As(err, &coded) {
		return coded.Code()
	}
	return "INTERNAL"
}
