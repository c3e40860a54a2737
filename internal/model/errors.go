package model

import (
	"errors"
)

var (
	ErrBatchRunning = errors.New("batch already running")
	ErrTooManyJobs  = errors.New("too many jobs in batch")
)
