package errors

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"github.com/waqasmani/autopunch/internal/infrastructure/observability"
	"go.uber.org/zap"
)

type DBErrorType string

const (
	ErrorTypeDeadlock            DBErrorType = "deadlock"
	ErrorTypeConnectionTimeout   DBErrorType = "connection_timeout"
	ErrorTypeConnectionRefused   DBErrorType = "connection_refused"
	ErrorTypeConstraintViolation DBErrorType = "constraint_violation"
	ErrorTypeDuplicateKey        DBErrorType = "duplicate_key"
	ErrorTypeQueryTimeout        DBErrorType = "query_timeout"
	ErrorTypeBusy                DBErrorType = "busy"
	ErrorTypeUnknown             DBErrorType = "unknown"
)

type DBError struct {
	Original error
	Type     DBErrorType
	Context  map[string]interface{}
}

func (e *DBError) Error() string {
	return fmt.Sprintf("database error: %s (%s)", e.Type, e.Original.Error())
}

func (e *DBError) Classify() DBErrorType {
	return e.Type
}

func (e *DBError) Unwrap() error {
	return e.Original
}

func NewDBError(err error, errType DBErrorType, ctx map[string]interface{}) *DBError {
	return &DBError{
		Original: err,
		Type:     errType,
		Context:  ctx,
	}
}

// ClassifyError maps driver errors from MySQL, PostgreSQL and SQLite onto
// one vocabulary.
func ClassifyError(err error) DBErrorType {
	if err == nil {
		return ""
	}

	if stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(err, context.Canceled) {
		return ErrorTypeQueryTimeout
	}
	if stderrors.Is(err, sql.ErrNoRows) {
		return ErrorTypeUnknown
	}
	if stderrors.Is(err, sql.ErrConnDone) {
		return ErrorTypeConnectionRefused
	}

	var dbErr *DBError
	if stderrors.As(err, &dbErr) {
		return dbErr.Type
	}

	var mysqlErr *mysql.MySQLError
	if stderrors.As(err, &mysqlErr) {
		return classifyMySQL(mysqlErr)
	}

	var pqErr *pq.Error
	if stderrors.As(err, &pqErr) {
		return classifyPostgres(pqErr)
	}

	var liteErr sqlite3.Error
	if stderrors.As(err, &liteErr) {
		return classifySQLite(liteErr)
	}

	return ErrorTypeUnknown
}

func classifyMySQL(e *mysql.MySQLError) DBErrorType {
	switch e.Number {
	case 1213, 1205, 1206: // deadlock, lock wait timeout, lock table full
		return ErrorTypeDeadlock
	case 2003, 2005:
		return ErrorTypeConnectionRefused
	case 2013:
		return ErrorTypeConnectionTimeout
	case 1062:
		return ErrorTypeDuplicateKey
	case 1048, 1146, 1451, 1452:
		return ErrorTypeConstraintViolation
	case 3024:
		return ErrorTypeQueryTimeout
	}
	return ErrorTypeUnknown
}

func classifyPostgres(e *pq.Error) DBErrorType {
	switch e.Code {
	case "40P01", "40001": // deadlock_detected, serialization_failure
		return ErrorTypeDeadlock
	case "23505":
		return ErrorTypeDuplicateKey
	case "23502", "23503", "23514", "42P01":
		return ErrorTypeConstraintViolation
	case "57014":
		return ErrorTypeQueryTimeout
	}
	if e.Code.Class() == "08" {
		return ErrorTypeConnectionRefused
	}
	return ErrorTypeUnknown
}

func classifySQLite(e sqlite3.Error) DBErrorType {
	switch e.Code {
	case sqlite3.ErrBusy, sqlite3.ErrLocked:
		return ErrorTypeBusy
	case sqlite3.ErrConstraint:
		if e.ExtendedCode == sqlite3.ErrConstraintPrimaryKey || e.ExtendedCode == sqlite3.ErrConstraintUnique {
			return ErrorTypeDuplicateKey
		}
		return ErrorTypeConstraintViolation
	case sqlite3.ErrCantOpen:
		return ErrorTypeConnectionRefused
	}
	return ErrorTypeUnknown
}

func IsTransientError(err error) bool {
	switch ClassifyError(err) {
	case ErrorTypeDeadlock, ErrorTypeConnectionTimeout, ErrorTypeConnectionRefused, ErrorTypeBusy:
		return true
	default:
		return false
	}
}

func LogDBError(ctx context.Context, logger *observability.Logger, err error, operation, query string) {
	if logger == nil {
		return
	}
	errType := ClassifyError(err)

	fields := []zap.Field{
		logger.Field("error_type", errType),
		logger.Field("original_error", err.Error()),
		logger.Field("operation", operation),
		logger.Field("query", query),
	}

	if IsTransientError(err) || errType == ErrorTypeQueryTimeout {
		logger.Warn(ctx, "Transient database error", fields...)
	} else {
		logger.Error(ctx, "Persistent database error", fields...)
	}
}
