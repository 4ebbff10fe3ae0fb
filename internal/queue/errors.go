package queue

import (
	"errors"
	"fmt"
	"syscall"

	"github.com/dmitrijs2005/meterkeeper/internal/common"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// mapWriteError translates driver failures on insert into the queue error
// taxonomy. The primary result code is the low byte of the extended code.
func mapWriteError(op string, err error) error {
	if err == nil || errors.Is(err, common.ErrStorageFull) || errors.Is(err, common.ErrValidation) {
		return err
	}

	if errors.Is(err, syscall.ENOSPC) {
		return fmt.Errorf("%s: %w: %w", op, common.ErrStorageFull, err)
	}

	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() & 0xff {
		case sqlite3.SQLITE_FULL:
			return fmt.Errorf("%s: %w: %w", op, common.ErrStorageFull, err)
		case sqlite3.SQLITE_CONSTRAINT:
			return fmt.Errorf("%s: %w: %w", op, common.ErrValidation, err)
		}
	}

	return fmt.Errorf("%s: %w", op, err)
}
