package privacy

import (
	"slices"
	"strings"
)

const redacted = "[REDACTED]"

// scrubbedError reports a scrubbed message while errors.Is and errors.As still
// reach the wrapped error.
type scrubbedError struct {
	err error
	msg string
}

func (e *scrubbedError) Error() string { return e.msg }
func (e *scrubbedError) Unwrap() error { return e.err }

// ScrubError wraps err so its message passes ScrubMessage and has every
// non-empty value in secrets masked. Callers pass values the message may
// echo verbatim, such as a service account file path. A nil err stays nil.
func ScrubError(err error, secrets ...string) error {
	if err == nil {
		return nil
	}
	return &scrubbedError{err: err, msg: ScrubSecrets(ScrubMessage(err.Error()), secrets...)}
}

// ScrubSecrets masks each literal secret in message, longest first so a
// secret that contains another is masked whole.
func ScrubSecrets(message string, secrets ...string) string {
	secrets = slices.DeleteFunc(slices.Clone(secrets), func(s string) bool { return s == "" })
	slices.SortFunc(secrets, func(a, b string) int { return len(b) - len(a) })
	for _, s := range secrets {
		message = strings.ReplaceAll(message, s, redacted)
	}
	return message
}
