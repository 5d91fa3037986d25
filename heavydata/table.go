package heavydata

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/VanDung-dev/HeavyData-Engine/arrowstore"
	"github.com/VanDung-dev/HeavyData-Engine/errdefs"
	"github.com/VanDung-dev/HeavyData-Engine/monitoring"
	"github.com/VanDung-dev/HeavyData-Engine/schema"
	"github.com/VanDung-dev/HeavyData-Engine/units"
)

// Persisted attributes of every group storing a schema instance.
const (
	AttrSchemas = "schemas"
	AttrSchema  = "schema"
)

// session is the state shared by every table reachable from one Open call.
type session struct {
	file     *arrowstore.File
	registry *schema.Registry
	conv     units.Converter
	metrics  *monitoring.Metrics
	logger   *slog.Logger
	closed   bool
}

func (s *session) readOnly() bool { return s.file.ReadOnly() }

func (s *session) check() error {
	if s.closed {
		return errdefs.Statef("handle closed, reopen it to access %s", s.file.Path())
	}
	return nil
}

// Table is one compiled schema bound to one group of the backing file. Its
// dataset is bound on first use.
type Table struct {
	sess   *session
	schema *schema.Schema
	group  *arrowstore.Group
	ds     *arrowstore.Dataset
}

func newTable(sess *session, s *schema.Schema, group *arrowstore.Group) *Table {
	return &Table{sess: sess, schema: s, group: group}
}

func (t *Table) String() string {
	return fmt.Sprintf("%s/%s", t.group.Path(), t.schema.DatasetName)
}

// dataset returns the bound dataset, binding it when it exists.
func (t *Table) dataset() (*arrowstore.Dataset, error) {
	if err := t.sess.check(); err != nil {
		return nil, err
	}
	if t.ds != nil {
		return t.ds, nil
	}
	ds := t.group.Dataset(t.schema.DatasetName)
	ok, err := ds.Exists()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errdefs.Statef("dataset not yet initialized, use Resize first: %s", t)
	}
	t.ds = ds
	return ds, nil
}

func (t *Table) len() (int, error) {
	ds, err := t.dataset()
	if err != nil {
		return 0, err
	}
	n, err := ds.Len()
	if err != nil {
		return 0, t.storeErr("", errdefs.NoRow, err)
	}
	return n, nil
}

// refPaths returns the substituted paths of every ref for rows [from, to).
func (t *Table) refPaths(from, to int) []string {
	if from >= to {
		return nil
	}
	out := make([]string, 0, (to-from)*len(t.schema.Refs))
	for _, ref := range t.schema.Refs {
		for r := from; r < to; r++ {
			out = append(out, ref.Path(r))
		}
	}
	return out
}

func (t *Table) resize(n int) error {
	if n < 0 {
		return fmt.Errorf("%w: %s: negative size %d", errdefs.ErrIndex, t, n)
	}
	if err := t.sess.check(); err != nil {
		return err
	}
	if t.sess.readOnly() {
		return errdefs.Statef("%s: resize on a read-only handle", t)
	}

	ds := t.group.Dataset(t.schema.DatasetName)
	ok, err := ds.Exists()
	if err != nil {
		return err
	}
	if !ok {
		if err := t.checkNoNested(0, n); err != nil {
			return err
		}
		if err := ds.Create(t.schema.ArrowSchema(), n, t.schema.DefaultRow()); err != nil {
			return t.storeErr("", errdefs.NoRow, err)
		}
		t.ds = ds
		t.sess.logger.Debug("dataset created", "dataset", t.String(), "size", n)
		return nil
	}

	t.ds = ds
	old, err := ds.Len()
	if err != nil {
		return t.storeErr("", errdefs.NoRow, err)
	}
	switch {
	case n > old:
		if err := t.checkNoNested(old, n); err != nil {
			return err
		}
		if err := ds.Resize(n, t.schema.DefaultRow()); err != nil {
			return t.storeErr("", errdefs.NoRow, err)
		}
	case n < old:
		if err := ds.Resize(n, nil); err != nil {
			return t.storeErr("", errdefs.NoRow, err)
		}
		// Rows never navigated have no nested group; that is not an error.
		deleted, err := t.group.DeleteAll(t.refPaths(n, old))
		if err != nil {
			return fmt.Errorf("%s: removing nested data of rows %d..%d: %w", t, n, old, err)
		}
		t.sess.logger.Debug("dataset shrunk", "dataset", t.String(), "from", old, "to", n, "nested_deleted", deleted)
	}
	return nil
}

// checkNoNested fails when nested data already exists for rows [from, to),
// which only happens when the file was modified behind the schema's back.
func (t *Table) checkNoNested(from, to int) error {
	found, err := t.group.Existing(t.refPaths(from, to))
	if err != nil {
		return err
	}
	if len(found) > 0 {
		return fmt.Errorf("%w: %s: nested data already present at %s/%s before its row exists",
			errdefs.ErrBrokenInvariant, t, t.group.Path(), found[0])
	}
	return nil
}

// storeErr maps backing store errors to the error taxonomy.
func (t *Table) storeErr(field string, row int, err error) error {
	if field == "" {
		field = t.String()
	}
	switch {
	case errors.Is(err, arrowstore.ErrRange):
		return errdefs.Wrap(errdefs.ErrIndex, field, row, err)
	case errors.Is(err, arrowstore.ErrReadOnly):
		return errdefs.Wrap(errdefs.ErrState, field, row, err)
	case errors.Is(err, arrowstore.ErrNotFound):
		return errdefs.Wrap(errdefs.ErrState, field, row, err)
	case errors.Is(err, arrowstore.ErrType):
		return errdefs.Wrap(errdefs.ErrCast, field, row, err)
	case errors.Is(err, arrowstore.ErrCorrupt):
		return errdefs.Wrap(errdefs.ErrBrokenInvariant, field, row, err)
	}
	return errdefs.Wrap(nil, field, row, err)
}
