package checkpoint

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/supporttools/GoSQLSync/pkg/source"
	"github.com/supporttools/GoSQLSync/pkg/storage"
)

// incrementalKeyPattern matches incremental artifact keys:
// <database>.<table>.<lower>-<upper>
var incrementalKeyPattern = regexp.MustCompile(`^([^./]+)\.(.+)\.(\d+)-(\d+)$`)

// RecoveredCursor is the cursor implied by the uploaded artifacts of one table
type RecoveredCursor struct {
	Ref      source.TableRef
	Position uint64
	Objects  int

	Previous    uint64
	HadPrevious bool
	Written     bool
}

// RecoverOptions controls Recover
type RecoverOptions struct {
	// Database limits recovery to one database when set.
	Database string
	// DryRun reports what would be written without writing.
	DryRun bool
	// Force writes the recovered cursor even when it is below the stored one.
	Force bool
}

// ParseArtifactKey extracts the table and range from an incremental
// artifact key. ok is false for FULL artifacts and foreign objects.
func ParseArtifactKey(key string) (ref source.TableRef, lower, upper uint64, ok bool) {
	m := incrementalKeyPattern.FindStringSubmatch(key)
	if m == nil {
		return ref, 0, 0, false
	}
	lower, err := strconv.ParseUint(m[3], 10, 64)
	if err != nil {
		return ref, 0, 0, false
	}
	upper, err = strconv.ParseUint(m[4], 10, 64)
	if err != nil || upper < lower {
		return ref, 0, 0, false
	}
	return source.TableRef{Database: m[1], Table: m[2]}, lower, upper, true
}

// Recover rebuilds cursors from the objects in store. An object only exists
// once its upload was acknowledged, so the highest upper bound per table is
// a cursor the exporter itself could have written. Only the bucket is
// scanned; local files may never have been uploaded.
func Recover(ctx context.Context, store storage.ObjectStore, cursors CursorStore, opts RecoverOptions, logger *logrus.Logger) ([]RecoveredCursor, error) {
	objects, err := store.List(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("failed to list bucket %s: %w", store.Bucket(), err)
	}

	found := make(map[source.TableRef]*RecoveredCursor)
	for _, obj := range objects {
		ref, _, upper, ok := ParseArtifactKey(obj.Key)
		if !ok {
			logger.Debugf("Skipping object with non-incremental name: %s", obj.Key)
			continue
		}
		if opts.Database != "" && ref.Database != opts.Database {
			continue
		}
		rc := found[ref]
		if rc == nil {
			rc = &RecoveredCursor{Ref: ref}
			found[ref] = rc
		}
		rc.Objects++
		if upper > rc.Position {
			rc.Position = upper
		}
	}

	recovered := make([]RecoveredCursor, 0, len(found))
	for _, rc := range found {
		prev, had, err := cursors.Read(ctx, rc.Ref)
		if err != nil {
			return recovered, err
		}
		rc.Previous, rc.HadPrevious = prev, had

		switch {
		case had && prev == rc.Position:
			logger.Debugf("Cursor for %s already at %d", rc.Ref, prev)
		case had && prev > rc.Position && !opts.Force:
			logger.Infof("Keeping cursor %d for %s, above the recovered %d (use force to lower it)", prev, rc.Ref, rc.Position)
		case opts.DryRun:
			logger.Infof("Would set cursor for %s to %d from %d object(s)", rc.Ref, rc.Position, rc.Objects)
		default:
			if err := cursors.Write(ctx, rc.Ref, rc.Position); err != nil {
				return recovered, err
			}
			rc.Written = true
			logger.Infof("Recovered cursor %d for %s from %d object(s)", rc.Position, rc.Ref, rc.Objects)
		}
		recovered = append(recovered, *rc)
	}

	sort.Slice(recovered, func(i, j int) bool {
		return recovered[i].Ref.String() < recovered[j].Ref.String()
	})
	return recovered, nil
}
