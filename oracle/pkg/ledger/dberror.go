package ledger

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrorType classifies ledger backend errors.
type ErrorType int

const (
	ErrorTypeUnknown ErrorType = iota
	ErrorTypeConnectivity
	ErrorTypeTimeout
	ErrorTypeAuth
	ErrorTypeQuery
)

func (t ErrorType) String() string {
	switch t {
	case ErrorTypeConnectivity:
		return "connectivity"
	case ErrorTypeTimeout:
		return "timeout"
	case ErrorTypeAuth:
		return "auth"
	case ErrorTypeQuery:
		return "query"
	default:
		return "unknown"
	}
}

// IsTransient reports whether err is worth retrying. Caller cancellation is not.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	switch Classify(err) {
	case ErrorTypeConnectivity, ErrorTypeTimeout:
		return true
	default:
		return false
	}
}

// Postgres SQLSTATE classes.
const (
	pgClassConnection    = "08"
	pgClassResources     = "53"
	pgClassOperator      = "57"
	pgClassAuthorization = "28"
	pgClassSyntax        = "42"
)

var (
	connectivityPatterns = []string{
		"connection refused",
		"connection reset",
		"connection closed",
		"no such host",
		"dial tcp",
		"eof",
		"broken pipe",
		"network is unreachable",
		"no route to host",
		"i/o timeout",
		"pool is closed",
		"closed pool",
		"acquire",
	}
	timeoutPatterns = []string{"timeout", "deadline exceeded", "timed out", "canceling statement"}
	authPatterns    = []string{"authentication failed", "password authentication", "access denied", "permission denied"}
	queryPatterns   = []string{"syntax error", "unknown column", "unknown table", "does not exist", "unknown identifier"}
)

// Classify determines the type of a ledger backend error.
func Classify(err error) ErrorType {
	if err == nil {
		return ErrorTypeUnknown
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && len(pgErr.Code) >= 2 {
		switch pgErr.Code[:2] {
		case pgClassConnection, pgClassResources, pgClassOperator:
			return ErrorTypeConnectivity
		case pgClassAuthorization:
			return ErrorTypeAuth
		case pgClassSyntax:
			return ErrorTypeQuery
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return ErrorTypeTimeout
		}
		return ErrorTypeConnectivity
	}

	msg := strings.ToLower(err.Error())
	for _, group := range []struct {
		t        ErrorType
		patterns []string
	}{
		{ErrorTypeConnectivity, connectivityPatterns},
		{ErrorTypeTimeout, timeoutPatterns},
		{ErrorTypeAuth, authPatterns},
		{ErrorTypeQuery, queryPatterns},
	} {
		for _, p := range group.patterns {
			if strings.Contains(msg, p) {
				return group.t
			}
		}
	}
	return ErrorTypeUnknown
}
