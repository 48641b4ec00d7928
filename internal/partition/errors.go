package partition

import (
	"errors"
	"fmt"
)

var (
	// ErrRead marks failures reading or decoding a partition.
	ErrRead = errors.New("partition read failed")
	// ErrWrite marks failures writing a partition or its backup.
	ErrWrite = errors.New("partition write failed")
)

// ReadError is a failure to fetch or decode one partition.
type ReadError struct {
	Path string
	Err  error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("read %s: %v", e.Path, e.Err)
}

func (e *ReadError) Unwrap() []error {
	return []error{ErrRead, e.Err}
}

// WriteStage names the step of a write that failed.
type WriteStage string

const (
	StageBackup    WriteStage = "backup"
	StageEncode    WriteStage = "encode"
	StageOverwrite WriteStage = "overwrite"
)

// WriteError is a failure to back up or overwrite one partition.
type WriteError struct {
	Path  string
	Stage WriteStage
	Err   error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write %s (%s): %v", e.Path, e.Stage, e.Err)
}

func (e *WriteError) Unwrap() []error {
	return []error{ErrWrite, e.Err}
}
