package mutate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"net"
	"os"
	"strings"

	"github.com/vexsearch/offstore/internal/partition"
	"github.com/vexsearch/offstore/pkg/objectstore"
)

// Class is a diagnostic classification of a per-file failure.
type Class string

const (
	ClassParse       Class = "parse"
	ClassColumns     Class = "columns"
	ClassMemory      Class = "memory"
	ClassAccess      Class = "access"
	ClassTimeout     Class = "timeout"
	ClassInterrupted Class = "interrupted" // cut off by an operator interrupt
	ClassUnknown     Class = "unknown"
)

// Classify inspects err for operator diagnostics. It never drives control flow.
func Classify(err error) Class {
	if err == nil {
		return ""
	}

	var syntaxErr *json.SyntaxError
	var netErr net.Error
	switch {
	case errors.Is(err, context.Canceled):
		return ClassInterrupted
	case errors.Is(err, partition.ErrColumns):
		return ClassColumns
	case errors.Is(err, partition.ErrTooLarge), errors.Is(err, bytes.ErrTooLarge):
		return ClassMemory
	case errors.Is(err, partition.ErrFormat), errors.As(err, &syntaxErr):
		return ClassParse
	case errors.Is(err, objectstore.ErrAccessDenied), errors.Is(err, objectstore.ErrNotFound),
		errors.Is(err, fs.ErrPermission), errors.Is(err, fs.ErrNotExist):
		return ClassAccess
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, os.ErrDeadlineExceeded),
		errors.Is(err, objectstore.ErrThrottled):
		return ClassTimeout
	case errors.As(err, &netErr) && netErr.Timeout():
		return ClassTimeout
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "parquet"), strings.Contains(msg, "magic"), strings.Contains(msg, "corrupt"):
		return ClassParse
	case strings.Contains(msg, "column"):
		return ClassColumns
	case strings.Contains(msg, "out of memory"), strings.Contains(msg, "cannot allocate"):
		return ClassMemory
	case strings.Contains(msg, "access denied"), strings.Contains(msg, "permission"), strings.Contains(msg, "forbidden"):
		return ClassAccess
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "timed out"):
		return ClassTimeout
	}
	return ClassUnknown
}
