package instance

import (
	"errors"
	"net"

	"github.com/go-sql-driver/mysql"

	"github.com/mysql/innodbcluster-adminapi/go/dbaerr"
)

// MySQL client-library error codes (CR_MIN_ERROR..CR_MAX_ERROR in the C
// client) indicate the socket never reached a server that could answer -
// connection refused, timeout, DNS failure, handshake abort. The admin
// core treats all of these as "unreachable" and moves on to the next
// candidate instead of failing the whole operation.
const (
	crMinError = 2000
	crMaxError = 2999
)

// IsConnectionError reports whether err represents a socket-level failure
// in the CR_MIN..CR_MAX range (or an underlying net.Error), as opposed to
// a server-side SQL error that should propagate.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return int(mysqlErr.Number) >= crMinError && int(mysqlErr.Number) <= crMaxError
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if errors.Is(err, mysql.ErrInvalidConn) || errors.Is(err, mysql.ErrBadConn) {
		return true
	}
	return false
}

// classifyDriverError boxes a raw driver error into a *dbaerr.Error,
// preserving the original for errors.As/errors.Unwrap while giving
// callers a code to branch on (per §7 "Low-level driver errors are
// wrapped into typed errors at the C1 boundary").
func classifyDriverError(err error) error {
	if err == nil {
		return nil
	}
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return dbaerr.Wrap(dbaerr.CodeDriverError,
			mysqlErr.Message, err)
	}
	return dbaerr.Wrap(dbaerr.CodeDriverError, "driver error", err)
}
