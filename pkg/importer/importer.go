// Package importer loads FOCUS cost exports from a blob source into storage,
// deduplicating line items by content hash.
package importer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/samber/lo"

	"github.com/ogulcanaydogan/finops-hub/pkg/focus"
	"github.com/ogulcanaydogan/finops-hub/pkg/model"
	"github.com/ogulcanaydogan/finops-hub/pkg/source"
	"github.com/ogulcanaydogan/finops-hub/pkg/storage"
)

// DefaultBatchSize is the number of rows inserted per storage round trip.
const DefaultBatchSize = 1000

// Config tunes the importer.
type Config struct {
	BatchSize int
	// Prefix is the container path above the subscriptions/ directory.
	Prefix string
}

// RunOptions narrows an import run.
type RunOptions struct {
	SubscriptionID string
	// BillingPeriod restricts the run to exports whose billing period starts in this month (YYYY-MM).
	BillingPeriod string
	// Force re-imports parts even when their ETag and last-modified are unchanged.
	Force bool
}

// Result summarises an import run.
type Result struct {
	Exports           []model.CostExport
	ExportsSkipped    int
	ExportsFailed     int
	ExportsSuperseded int
	RecordsImported   int64
	DuplicatesSkipped int64
	DuplicatesInFile  int64
	RowsFailed        int64
	RecordsDeleted    int64
}

func (r *Result) add(export *model.CostExport) {
	r.Exports = append(r.Exports, *export)
	r.RecordsImported += export.RecordsImported
	r.DuplicatesSkipped += export.DuplicatesSkipped
	r.DuplicatesInFile += export.DuplicatesInFile
	r.RowsFailed += export.RowsFailed
	if export.Status == model.ExportFailed {
		r.ExportsFailed++
	}
}

// Importer imports cost export files.
type Importer struct {
	store  storage.Storage
	src    source.Source
	cfg    Config
	logger *slog.Logger
}

// New creates an importer. src may be nil when only ImportFile is used.
func New(store storage.Storage, src source.Source, cfg Config, logger *slog.Logger) *Importer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	return &Importer{store: store, src: src, cfg: cfg, logger: logger}
}

type part struct {
	blob source.BlobInfo
	path *focus.ExportPath
}

// Run lists the source and imports the newest export run of every
// (subscription, export name, billing period). Older runs are superseded
// before the new one is imported. A failed part does not stop the run.
func (im *Importer) Run(ctx context.Context, opts RunOptions) (*Result, error) {
	if im.src == nil {
		return nil, fmt.Errorf("no blob source configured")
	}

	prefix := focus.ListPrefix(im.cfg.Prefix, opts.SubscriptionID)
	blobs, err := im.src.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", im.src.Name(), err)
	}

	var parts []part
	for _, b := range blobs {
		p, err := focus.ParsePath(b.Name)
		if err != nil {
			im.logger.Debug("skipping non-export blob", "blob", b.Name)
			continue
		}
		if opts.BillingPeriod != "" && p.BillingPeriodStart[:7] != opts.BillingPeriod {
			continue
		}
		parts = append(parts, part{blob: b, path: p})
	}

	groups := lo.GroupBy(parts, func(p part) string { return p.path.GroupKey() })
	keys := lo.Keys(groups)
	sort.Strings(keys)

	im.logger.Info("import started", "source", im.src.Name(), "prefix", prefix,
		"parts", len(parts), "exports", len(keys))

	result := &Result{}
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		latest := latestRun(groups[key])

		superseded, deleted, err := im.supersedeOlderRuns(ctx, latest[0].path)
		if err != nil {
			return result, err
		}
		result.ExportsSuperseded += superseded
		result.RecordsDeleted += deleted

		for _, p := range latest {
			export, skipped, deleted, err := im.importPart(ctx, p, opts.Force)
			result.RecordsDeleted += deleted
			if skipped {
				result.ExportsSkipped++
				continue
			}
			if export != nil {
				result.add(export)
			}
			if err != nil {
				im.logger.Error("export part failed", "blob", p.blob.Name, "error", err)
			}
		}
	}

	im.logger.Info("import finished",
		"imported", result.RecordsImported,
		"duplicates_skipped", result.DuplicatesSkipped,
		"duplicates_in_file", result.DuplicatesInFile,
		"rows_failed", result.RowsFailed,
		"exports_failed", result.ExportsFailed,
		"exports_skipped", result.ExportsSkipped,
		"exports_superseded", result.ExportsSuperseded,
	)
	return result, nil
}

// latestRun returns the parts of the export GUID with the newest blob,
// ordered by part number.
func latestRun(parts []part) []part {
	byGUID := lo.GroupBy(parts, func(p part) string { return p.path.ExportGUID })
	newest := func(ps []part) time.Time {
		return lo.MaxBy(ps, func(a, b part) bool { return a.blob.LastModified.After(b.blob.LastModified) }).blob.LastModified
	}

	var winner []part
	var winnerTime time.Time
	for _, guid := range lo.Keys(byGUID) {
		ps := byGUID[guid]
		t := newest(ps)
		if winner == nil || t.After(winnerTime) || (t.Equal(winnerTime) && guid > winner[0].path.ExportGUID) {
			winner, winnerTime = ps, t
		}
	}
	sort.Slice(winner, func(i, j int) bool {
		if winner[i].path.PartNumber != winner[j].path.PartNumber {
			return winner[i].path.PartNumber < winner[j].path.PartNumber
		}
		return winner[i].blob.Name < winner[j].blob.Name
	})
	return winner
}

// supersedeOlderRuns deletes the records of stored exports that belong to
// the same export run key but a different GUID.
func (im *Importer) supersedeOlderRuns(ctx context.Context, p *focus.ExportPath) (int, int64, error) {
	existing, err := im.store.ListExports(ctx, model.ExportFilter{
		SubscriptionID:     p.SubscriptionID,
		ExportName:         p.ExportName,
		BillingPeriodStart: p.BillingPeriodStart,
	})
	if err != nil {
		return 0, 0, fmt.Errorf("list previous exports: %w", err)
	}

	var count int
	var deleted int64
	for _, e := range existing {
		if e.ExportGUID == p.ExportGUID || e.Status == model.ExportSuperseded {
			continue
		}
		n, err := im.store.SupersedeExport(ctx, e.ID)
		if err != nil {
			return count, deleted, fmt.Errorf("supersede export %s: %w", e.ID, err)
		}
		im.logger.Info("export superseded",
			"export_id", e.ID, "guid", e.ExportGUID, "replaced_by", p.ExportGUID, "records_deleted", n)
		count++
		deleted += n
	}
	return count, deleted, nil
}

// importPart imports one blob. An unchanged, completed part is skipped;
// a changed one replaces its previous import.
func (im *Importer) importPart(ctx context.Context, p part, force bool) (*model.CostExport, bool, int64, error) {
	var deleted int64
	prev, err := im.store.LatestExportForPath(ctx, p.blob.Name)
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		return nil, false, 0, fmt.Errorf("look up previous import: %w", err)
	case prev.Status == model.ExportSuperseded:
	case !force && prev.Status == model.ExportCompleted &&
		prev.BlobETag == p.blob.ETag && prev.BlobLastModified.Equal(p.blob.LastModified):
		im.logger.Debug("export part unchanged", "blob", p.blob.Name, "etag", p.blob.ETag)
		return prev, true, 0, nil
	default:
		if deleted, err = im.store.SupersedeExport(ctx, prev.ID); err != nil {
			return nil, false, 0, fmt.Errorf("replace previous import: %w", err)
		}
		im.logger.Info("export part changed, re-importing", "blob", p.blob.Name, "records_deleted", deleted)
	}

	export := &model.CostExport{
		BlobPath:           p.blob.Name,
		SubscriptionID:     p.path.SubscriptionID,
		ExportName:         p.path.ExportName,
		ExportGUID:         p.path.ExportGUID,
		PartNumber:         p.path.PartNumber,
		BillingPeriodStart: p.path.BillingPeriodStart,
		BillingPeriodEnd:   p.path.BillingPeriodEnd,
		Status:             model.ExportProcessing,
		BlobLastModified:   p.blob.LastModified,
		BlobETag:           p.blob.ETag,
		BlobSize:           p.blob.Size,
	}
	if err := im.store.CreateExport(ctx, export); err != nil {
		return nil, false, deleted, fmt.Errorf("create export: %w", err)
	}

	rc, err := im.src.Open(ctx, p.blob.Name)
	if err != nil {
		return export, false, deleted, im.finish(ctx, export, err)
	}
	defer rc.Close()

	err = im.importStream(ctx, export, rc, p.blob.Name)
	return export, false, deleted, im.finish(ctx, export, err)
}

// ImportFile imports a local FOCUS file into a new export.
func (im *Importer) ImportFile(ctx context.Context, path string) (*model.CostExport, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	export := &model.CostExport{
		BlobPath: filepath.ToSlash(path),
		Status:   model.ExportProcessing,
	}
	if info, err := f.Stat(); err == nil {
		export.BlobSize = info.Size()
		export.BlobLastModified = info.ModTime().UTC()
	}
	if p, err := focus.ParsePath(export.BlobPath); err == nil {
		export.SubscriptionID = p.SubscriptionID
		export.ExportName = p.ExportName
		export.ExportGUID = p.ExportGUID
		export.PartNumber = p.PartNumber
		export.BillingPeriodStart = p.BillingPeriodStart
		export.BillingPeriodEnd = p.BillingPeriodEnd
	}
	if err := im.store.CreateExport(ctx, export); err != nil {
		return nil, fmt.Errorf("create export: %w", err)
	}

	err = im.importStream(ctx, export, f, path)
	return export, im.finish(ctx, export, err)
}

// finish records the outcome of an export and returns importErr.
func (im *Importer) finish(ctx context.Context, export *model.CostExport, importErr error) error {
	if importErr != nil {
		export.Status = model.ExportFailed
		export.ErrorMessage = importErr.Error()
	} else {
		now := time.Now().UTC()
		export.Status = model.ExportCompleted
		export.ErrorMessage = ""
		export.CompletedAt = &now
	}
	if err := im.store.UpdateExport(ctx, export); err != nil {
		im.logger.Error("failed to update export status", "export_id", export.ID, "error", err)
		if importErr == nil {
			return fmt.Errorf("update export: %w", err)
		}
	}

	if importErr == nil {
		im.logger.Info("export imported",
			"blob", export.BlobPath,
			"records", export.RecordsImported,
			"duplicates_skipped", export.DuplicatesSkipped,
			"duplicates_in_file", export.DuplicatesInFile,
			"rows_failed", export.RowsFailed,
		)
	}
	return importErr
}

// importStream parses r and inserts its records in batches.
func (im *Importer) importStream(ctx context.Context, export *model.CostExport, r io.Reader, name string) error {
	fr, err := focus.NewReader(r, name)
	if err != nil {
		return err
	}
	defer fr.Close()

	seen := make(map[string]struct{})
	batch := make([]model.CostRecord, 0, im.cfg.BatchSize)
	for {
		rec, err := fr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		var rowErr *focus.RowError
		if errors.As(err, &rowErr) {
			export.RowsFailed++
			im.logger.Warn("skipping unparseable row", "blob", name, "line", rowErr.Line, "error", rowErr.Err)
			continue
		}
		if err != nil {
			return fmt.Errorf("read %s: %w", name, err)
		}

		if _, dup := seen[rec.RecordHash]; dup {
			export.DuplicatesInFile++
			continue
		}
		seen[rec.RecordHash] = struct{}{}

		rec.ExportID = export.ID
		batch = append(batch, *rec)
		if len(batch) >= im.cfg.BatchSize {
			if err := im.flush(ctx, export, batch); err != nil {
				return err
			}
			batch = batch[:0]
		}
	}
	return im.flush(ctx, export, batch)
}

// flush drops records whose hash is already stored and inserts the rest.
func (im *Importer) flush(ctx context.Context, export *model.CostExport, batch []model.CostRecord) error {
	if len(batch) == 0 {
		return nil
	}

	hashes := lo.Map(batch, func(r model.CostRecord, _ int) string { return r.RecordHash })
	existing, err := im.store.ExistingHashes(ctx, hashes)
	if err != nil {
		return fmt.Errorf("check existing hashes: %w", err)
	}

	fresh := lo.Filter(batch, func(r model.CostRecord, _ int) bool {
		_, ok := existing[r.RecordHash]
		return !ok
	})
	export.DuplicatesSkipped += int64(len(batch) - len(fresh))

	inserted, err := im.store.InsertRecords(ctx, fresh)
	if err != nil {
		return fmt.Errorf("insert records: %w", err)
	}
	// Rows inserted concurrently by another import are ignored by the store.
	export.DuplicatesSkipped += int64(len(fresh)) - inserted
	export.RecordsImported += inserted
	return nil
}
