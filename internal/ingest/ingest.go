// Package ingest loads plaintext CSV tables into the encrypted store.
//
// Every cell is encrypted with the client key on the way in; the store
// only ever receives schemas and ciphertexts. Column types come from
// typed CSV headers ("id:uint8") or from a CUE catalog. Type inference
// happens here and nowhere else: the evaluator trusts the stored schema.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/mahmudsudo/encrypted-sql/internal/fhe"
	"github.com/mahmudsudo/encrypted-sql/internal/qerr"
	"github.com/mahmudsudo/encrypted-sql/internal/schema"
	"github.com/mahmudsudo/encrypted-sql/internal/store"
)

// Options configures a Loader.
type Options struct {
	// Catalog declares table schemas. LoadDir falls back to catalog.cue in
	// the directory when nil.
	Catalog *Catalog

	// Replace drops an existing table of the same name before loading.
	// Without it, loading an existing table fails.
	Replace bool

	// Workers bounds how many rows are encrypted concurrently.
	// Zero or less means runtime.NumCPU().
	Workers int
}

// Report describes one loaded table.
type Report struct {
	Table   string        `json:"table"`
	Columns int           `json:"columns"`
	Rows    int           `json:"rows"`
	Elapsed time.Duration `json:"elapsed"`
}

// Loader encrypts tables and writes them to a store.
type Loader struct {
	store *store.Store
	enc   *fhe.Encryptor
	opts  Options
}

// NewLoader creates a Loader writing to st with cells encrypted by enc.
func NewLoader(st *store.Store, enc *fhe.Encryptor, opts Options) *Loader {
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	return &Loader{store: st, enc: enc, opts: opts}
}

// Load loads path, which is either a CSV file or a directory of them.
func (l *Loader) Load(ctx context.Context, path string) ([]Report, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return l.LoadDir(ctx, path)
	}
	rep, err := l.LoadFile(ctx, path)
	if err != nil {
		return nil, err
	}
	return []Report{rep}, nil
}

// LoadDir loads every *.csv file in dir in name order. A catalog.cue in
// dir is used when the Loader has no catalog.
func (l *Loader) LoadDir(ctx context.Context, dir string) ([]Report, error) {
	if l.opts.Catalog == nil {
		catPath := filepath.Join(dir, CatalogFile)
		if _, err := os.Stat(catPath); err == nil {
			cat, err := LoadCatalog(catPath)
			if err != nil {
				return nil, err
			}
			l.opts.Catalog = cat
		}
	}

	files, err := FindCSVFiles(dir)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", dir, err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no CSV files found in %s", dir)
	}

	reports := make([]Report, 0, len(files))
	for _, f := range files {
		rep, err := l.LoadFile(ctx, f)
		if err != nil {
			return reports, err
		}
		reports = append(reports, rep)
	}
	return reports, nil
}

// LoadFile loads one CSV file. The table is named after the file stem.
func (l *Loader) LoadFile(ctx context.Context, path string) (Report, error) {
	f, err := os.Open(path)
	if err != nil {
		return Report{}, err
	}
	defer f.Close()

	tbl, rows, err := ReadCSV(f, TableName(path), l.opts.Catalog)
	if err != nil {
		return Report{}, err
	}
	return l.LoadTable(ctx, tbl, rows)
}

// LoadTable encrypts rows and stores them as tbl.
func (l *Loader) LoadTable(ctx context.Context, tbl schema.Table, rows [][]schema.Value) (Report, error) {
	start := time.Now()

	if err := l.store.SetPreset(ctx, l.enc.Params().Preset()); err != nil {
		return Report{}, err
	}
	if l.opts.Replace {
		if err := l.store.DropTable(ctx, tbl.Name); err != nil && !qerr.IsTableNotFound(err) {
			return Report{}, err
		}
	}

	if err := l.store.CreateTable(ctx, tbl); err != nil {
		return Report{}, err
	}
	cells, err := l.encryptRows(ctx, tbl, rows)
	if err == nil {
		err = l.store.InsertRows(ctx, tbl.Name, cells)
	}
	if err != nil {
		// Leave no half-loaded table behind.
		if dropErr := l.store.DropTable(context.WithoutCancel(ctx), tbl.Name); dropErr != nil {
			slog.Warn("could not drop partially loaded table", "table", tbl.Name, "error", dropErr)
		}
		return Report{}, err
	}

	rep := Report{Table: tbl.Name, Columns: len(tbl.Columns), Rows: len(rows), Elapsed: time.Since(start)}
	slog.Info("table loaded",
		"table", rep.Table,
		"columns", rep.Columns,
		"rows", rep.Rows,
		"elapsed", rep.Elapsed,
	)
	return rep, nil
}

// encryptRows encrypts every row on a bounded pool. Each task encrypts
// one row with its own copy of the encryptor.
func (l *Loader) encryptRows(ctx context.Context, tbl schema.Table, rows [][]schema.Value) ([][]*fhe.Ciphertext, error) {
	out := make([][]*fhe.Ciphertext, len(rows))
	if len(rows) == 0 {
		return out, nil
	}

	var (
		mu       sync.Mutex
		firstErr error
		wg       sync.WaitGroup
	)
	fail := func(err error) {
		mu.Lock()
		defer mu.Unlock()
		if firstErr == nil {
			firstErr = err
		}
	}

	pool, err := ants.NewPool(min(l.opts.Workers, len(rows)), ants.WithPanicHandler(func(v any) {
		fail(fmt.Errorf("encryption panicked: %v", v))
	}))
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}
	defer pool.Release()

	for i, row := range rows {
		if err := ctx.Err(); err != nil {
			fail(err)
			break
		}
		if len(row) != len(tbl.Columns) {
			fail(fmt.Errorf("%s row %d has %d values for %d columns", tbl.Name, i+1, len(row), len(tbl.Columns)))
			break
		}
		i, row := i, row
		wg.Add(1)
		err := pool.Submit(func() {
			defer wg.Done()
			enc := l.enc.ShallowCopy()
			cells := make([]*fhe.Ciphertext, len(row))
			for j, v := range row {
				ct, err := enc.Encrypt(v, tbl.Columns[j].Type)
				if err != nil {
					fail(fmt.Errorf("%s row %d column %s: %w", tbl.Name, i+1, tbl.Columns[j].Name, err))
					return
				}
				cells[j] = ct
			}
			out[i] = cells
		})
		if err != nil {
			wg.Done()
			fail(fmt.Errorf("submit row %d: %w", i+1, err))
			break
		}
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	return out, nil
}

// TableName returns the table name for a CSV path: the file stem.
func TableName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// FindCSVFiles returns the .csv files directly inside dir, sorted by name.
func FindCSVFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.EqualFold(filepath.Ext(e.Name()), ".csv") {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}
