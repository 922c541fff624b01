package uploader

import (
	"context"
	"errors"
	"strings"

	"github.com/pixrelay/pixrelay/internal/remote"
)

// Classify turns a raw backend failure into a StructuredError. It never
// fails itself: anything unrecognized becomes KindUnknown with
// retryable=true. Already-classified errors pass through unchanged.
func Classify(err error) *StructuredError {
	if err == nil {
		return nil
	}

	var serr *StructuredError
	if errors.As(err, &serr) {
		return serr
	}

	switch {
	case errors.Is(err, ErrNotRegistered), errors.Is(err, ErrConstructionFailed), errors.Is(err, ErrNoBackends):
		return wrapStructured(KindConfigMissing, err.Error(), err)
	case errors.Is(err, context.DeadlineExceeded):
		return wrapStructured(KindTimeout, "backend did not respond in time", err)
	}

	msg := err.Error()

	var cerr *remote.CallError
	if errors.As(err, &cerr) && cerr.Status != 0 {
		if kind, ok := kindForStatus(cerr.Status); ok {
			return wrapStructured(kind, msg, err)
		}
	}

	return wrapStructured(kindForMessage(msg), msg, err)
}

func kindForStatus(status int) (ErrorKind, bool) {
	switch {
	case status == 401:
		return KindAuthInvalid, true
	case status == 403:
		return KindPermissionDenied, true
	case status == 404:
		return KindConfigMissing, true
	case status == 408:
		return KindTimeout, true
	case status == 413:
		return KindFileTooLarge, true
	case status == 429:
		return KindRateLimited, true
	case status >= 500:
		return KindServerError, true
	}
	return KindUnknown, false
}

func kindForMessage(msg string) ErrorKind {
	m := strings.ToLower(msg)

	switch {
	case containsAny(m, "100006", "cookie", "session", "login required", "not logged in", "expired"):
		return KindAuthExpired
	case containsAny(m, "timeout", "timed out", "deadline exceeded"):
		return KindTimeout
	case containsAny(m, "econnrefused", "connection refused", "connection reset", "no such host", "dial tcp", "broken pipe", "unexpected eof"):
		return KindNetwork
	case containsAny(m, "nosuchbucket", "no such bucket", "repository not found"):
		return KindConfigMissing
	case containsAny(m, "401", "unauthorized", "invalid token", "bad credentials", "invalidaccesskeyid", "signaturedoesnotmatch"):
		return KindAuthInvalid
	case containsAny(m, "403", "forbidden", "permission denied", "access denied", "accessdenied"):
		return KindPermissionDenied
	case containsAny(m, "413", "too large", "size limit", "exceeds limit", "entity too large"):
		return KindFileTooLarge
	case containsAny(m, "429", "rate limit", "too many requests"):
		return KindRateLimited
	case containsAny(m, "500", "502", "503", "504", "server error", "internal error", "bad gateway", "service unavailable"):
		return KindServerError
	}
	return KindUnknown
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
