package export

import (
	"errors"
	"fmt"
	"strings"

	"github.com/supporttools/GoSQLSync/pkg/source"
)

// ErrRetriesExhausted is wrapped by the error returned when transient
// source failures outlast the retry budget.
var ErrRetriesExhausted = errors.New("retries exhausted")

// TableError is the failure of a single table
type TableError struct {
	Ref source.TableRef
	Err error
}

func (e TableError) Error() string {
	return fmt.Sprintf("%s: %v", e.Ref, e.Err)
}

func (e TableError) Unwrap() error {
	return e.Err
}

// TableErrors collects the tables that failed while the rest of the run
// carried on.
type TableErrors []TableError

func (e TableErrors) Error() string {
	msgs := make([]string, len(e))
	for i, te := range e {
		msgs[i] = te.Error()
	}
	return fmt.Sprintf("%d table(s) failed: %s", len(e), strings.Join(msgs, "; "))
}

func (e TableErrors) Unwrap() []error {
	errs := make([]error, len(e))
	for i, te := range e {
		errs[i] = te
	}
	return errs
}
