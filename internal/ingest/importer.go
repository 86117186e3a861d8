// Package ingest runs imports: decode an upload, locate each file's header,
// match and transform every row in file order, then hand the batch to the
// store as a full replace of its dataset type.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mjhen/rosterbridge/internal/decode"
	"github.com/mjhen/rosterbridge/internal/fields"
	"github.com/mjhen/rosterbridge/internal/grid"
	"github.com/mjhen/rosterbridge/internal/logging"
	"github.com/mjhen/rosterbridge/internal/match"
	"github.com/mjhen/rosterbridge/internal/records"
	"github.com/mjhen/rosterbridge/internal/roster"
	"github.com/mjhen/rosterbridge/internal/store"
	"github.com/mjhen/rosterbridge/internal/transform"
)

var (
	ErrNoRoster     = errors.New("roster is empty")
	ErrNoDataset    = errors.New("no dataset header recognized")
	ErrInvalidInput = errors.New("invalid input")
)

// Store is what an import needs from persistence.
type Store interface {
	ListStudents(ctx context.Context) ([]roster.Student, error)
	ReplaceRecords(ctx context.Context, run store.ImportRun, batch []records.Record) (store.ReplaceResult, error)
}

// Options configure an Importer. Zero values pick the defaults.
type Options struct {
	Tables         fields.Tables
	Now            func() time.Time
	MaxScanRows    int
	FuzzyThreshold float64
	StatePrefix    string
	Decode         decode.Options
	Logger         *zap.Logger
	Sink           Sink
}

// Request is one upload to import.
type Request struct {
	FileName string
	Data     []byte
	// Dataset may be empty, in which case the first dataset whose header
	// predicate locates a header in the first readable file is used.
	Dataset records.DatasetType
	Actor   string
	// RunID is generated when empty.
	RunID string
}

type Importer struct {
	store        Store
	tables       fields.Tables
	now          func() time.Time
	maxScanRows  int
	matchOpts    []match.Option
	decodeOpts   decode.Options
	logger       *zap.Logger
	sink         Sink
	transformers []transform.Transformer
}

func New(s Store, opts Options) *Importer {
	if opts.Tables == nil {
		opts.Tables = fields.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Sink == nil {
		opts.Sink = nopSink{}
	}
	im := &Importer{
		store:       s,
		tables:      opts.Tables,
		now:         opts.Now,
		maxScanRows: opts.MaxScanRows,
		decodeOpts:  opts.Decode,
		logger:      logging.OrNop(opts.Logger),
		sink:        opts.Sink,
		transformers: transform.All(transform.Options{
			Tables: opts.Tables,
			Now:    opts.Now,
		}),
	}
	if opts.StatePrefix != "" {
		im.matchOpts = append(im.matchOpts, match.WithStatePrefix(opts.StatePrefix))
	}
	if opts.FuzzyThreshold > 0 {
		im.matchOpts = append(im.matchOpts, match.WithFuzzyThreshold(opts.FuzzyThreshold))
	}
	return im
}

// located is a file whose header row was found.
type located struct {
	file      decode.File
	reportIdx int
	headerRow int
	headers   []string
}

// run carries the mutable state of one import.
type run struct {
	im     *Importer
	req    Request
	report *Report
	log    *zap.Logger
}

func (r *run) emit(e Event) {
	e.RunID = r.report.RunID
	if e.State == "" {
		e.State = r.report.State
	}
	r.im.sink.Publish(e)
}

func (r *run) enter(s State) {
	r.report.State = s
	r.emit(Event{State: s})
}

func (r *run) fail(err error) (*Report, error) {
	r.report.State = StateFailed
	if !slices.Contains(r.report.Errors, err.Error()) {
		r.report.Errors = append(r.report.Errors, err.Error())
	}
	r.log.Warn("import failed", zap.Error(err))
	r.emit(Event{State: StateFailed, Report: r.report})
	return r.report, err
}

// Import runs one upload to completion. Errors returned are fatal: the upload
// could not be decoded, no header was found, or the batch could not be
// stored. Row problems are listed in the report instead. The report is
// returned in both cases.
func (im *Importer) Import(ctx context.Context, req Request) (*Report, error) {
	req.FileName = strings.TrimSpace(req.FileName)
	if req.RunID == "" {
		req.RunID = uuid.NewString()
	}
	r := &run{
		im:     im,
		req:    req,
		report: newReport(req.RunID, req.FileName),
		log:    im.logger.With(zap.String("run_id", req.RunID), zap.String("file", req.FileName)),
	}
	if req.FileName == "" {
		return r.fail(fmt.Errorf("%w: file name is required", ErrInvalidInput))
	}
	if req.Dataset != "" {
		dataset, err := records.ParseDatasetType(string(req.Dataset))
		if err != nil {
			return r.fail(err)
		}
		r.req.Dataset = dataset
		r.report.DatasetType = dataset
	}

	r.enter(StateDecoding)
	r.report.Digest = decode.Digest(req.Data)
	files, err := decode.Decode(ctx, req.FileName, req.Data, im.decodeOpts)
	if err != nil {
		return r.fail(fmt.Errorf("decode %s: %w", req.FileName, err))
	}

	students, err := im.store.ListStudents(ctx)
	if err != nil {
		return r.fail(fmt.Errorf("load roster: %w", err))
	}
	if len(students) == 0 {
		return r.fail(ErrNoRoster)
	}
	index := roster.Build(students)
	r.report.RosterWarnings = index.Stats().Warnings
	for _, w := range index.Warnings {
		r.log.Warn("roster data quality", zap.String("warning", w))
	}

	r.enter(StateHeaderLocating)
	t, ready, err := r.locate(files)
	if err != nil {
		return r.fail(err)
	}

	r.enter(StateRowProcessing)
	matcher := match.New(index, im.tables.Table(string(t.Dataset())), im.matchOpts...)
	batch, err := r.process(ctx, t, matcher, ready, len(files) > 1)
	if err != nil {
		return r.fail(err)
	}

	r.enter(StateReporting)
	if len(batch) == 0 {
		r.report.Errors = append(r.report.Errors,
			fmt.Sprintf("no records produced; existing %s records were kept", t.Dataset()))
		r.log.Info("import produced no records", zap.Int("rows", r.report.TotalRows))
	} else if err := r.persist(ctx, batch); err != nil {
		return r.fail(err)
	}

	r.report.State = StateDone
	r.log.Info("import finished",
		zap.String("dataset", string(r.report.DatasetType)),
		zap.Int("rows", r.report.TotalRows),
		zap.Int("matched", r.report.MatchedRows),
		zap.Int("records", r.report.ProcessedRecords),
		zap.Int("errors", len(r.report.Errors)),
	)
	r.emit(Event{State: StateDone, Report: r.report})
	return r.report, nil
}

// locate finds the header of every readable file and settles the dataset
// type. Only a failure on every file is fatal.
func (r *run) locate(files []decode.File) (transform.Transformer, []located, error) {
	var (
		chosen   transform.Transformer
		ready    []located
		firstErr error
	)
	if r.req.Dataset != "" {
		for _, t := range r.im.transformers {
			if t.Dataset() == r.req.Dataset {
				chosen = t
			}
		}
	}

	for _, f := range files {
		idx := len(r.report.Files)
		r.report.Files = append(r.report.Files, FileReport{
			Name: f.Name, Format: f.Format, Encoding: f.Encoding, Digest: f.Digest, HeaderRow: -1,
		})
		fr := &r.report.Files[idx]

		if f.Err != nil {
			fr.Error = f.Err.Error()
			r.report.Errors = append(r.report.Errors, fmt.Sprintf("%s: %v", f.Name, f.Err))
			firstErr = cmpErr(firstErr, fmt.Errorf("%s: %w", f.Name, f.Err))
			continue
		}

		candidates := r.im.transformers
		if chosen != nil {
			candidates = []transform.Transformer{chosen}
		}
		var (
			headerRow = -1
			headers   []string
			err       error
		)
		for _, t := range candidates {
			headerRow, headers, err = grid.Locate(f.Grid, t.HeaderPredicate(), r.im.maxScanRows)
			if err == nil {
				chosen = t
				break
			}
		}
		if err != nil {
			if chosen == nil {
				err = fmt.Errorf("%w: %w", ErrNoDataset, err)
			}
			fr.Error = err.Error()
			r.report.Errors = append(r.report.Errors, fmt.Sprintf("%s: %v", f.Name, err))
			firstErr = cmpErr(firstErr, fmt.Errorf("%s: %w", f.Name, err))
			continue
		}
		fr.HeaderRow = headerRow
		ready = append(ready, located{file: f, reportIdx: idx, headerRow: headerRow, headers: headers})
	}

	if len(ready) == 0 {
		if firstErr == nil {
			firstErr = fmt.Errorf("%s: %w", r.req.FileName, decode.ErrEmptyFile)
		}
		return nil, nil, firstErr
	}
	r.report.DatasetType = chosen.Dataset()
	r.log.Debug("headers located",
		zap.String("dataset", string(chosen.Dataset())),
		zap.Int("files", len(ready)),
	)
	return chosen, ready, nil
}

func cmpErr(first, next error) error {
	if first != nil {
		return first
	}
	return next
}

// process matches and transforms rows strictly in file order.
func (r *run) process(ctx context.Context, t transform.Transformer, matcher *match.Matcher, files []located, prefixFile bool) ([]records.Record, error) {
	var batch []records.Record
	for _, lf := range files {
		rows := lf.file.Grid.Records(lf.headerRow, lf.headers)
		r.report.Files[lf.reportIdx].Rows = len(rows)
		for _, row := range rows {
			if err := ctx.Err(); err != nil {
				return nil, fmt.Errorf("import interrupted: %w", err)
			}
			r.report.TotalRows++

			rowErr := func(err error) {
				msg := fmt.Sprintf("row %d: %v", row.Line(), err)
				if prefixFile {
					msg = lf.file.Name + ": " + msg
				}
				r.report.Errors = append(r.report.Errors, msg)
				r.log.Debug("row rejected", zap.String("member", lf.file.Name), zap.Int("row", row.Line()), zap.Error(err))
			}

			res, ok := matcher.Resolve(row.Values, lf.headers)
			r.emit(Event{File: lf.file.Name, Row: row.Line(), Matched: ok, Strategy: res.Strategy})
			if !ok {
				r.report.UnmatchedRows++
				if res.SourceID != "" {
					rowErr(fmt.Errorf("%w for %q", transform.ErrNoIdentity, res.SourceID))
				} else {
					rowErr(transform.ErrNoIdentity)
				}
				continue
			}
			r.report.MatchedRows++
			r.report.MatchCountsByStrategy.add(res.Strategy)

			recs, err := t.Transform(transform.Input{
				Row:        row,
				Headers:    lf.headers,
				Match:      res,
				SourceFile: lf.file.Name,
			})
			if err != nil {
				rowErr(err)
				continue
			}
			batch = append(batch, recs...)
			r.report.ProcessedRecords += len(recs)
		}
	}
	return batch, nil
}

// persist stores the batch and the run in one replace.
func (r *run) persist(ctx context.Context, batch []records.Record) error {
	// The stored report is the final one.
	r.report.State = StateDone
	payload, err := json.Marshal(r.report)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	res, err := r.im.store.ReplaceRecords(ctx, store.ImportRun{
		ID:          r.report.RunID,
		DatasetType: r.report.DatasetType,
		FileName:    r.report.FileName,
		Digest:      r.report.Digest,
		Actor:       r.req.Actor,
		Report:      payload,
		CreatedAt:   r.im.now(),
	}, batch)
	if err != nil {
		r.report.State = StateReporting
		return fmt.Errorf("store %s records: %w", r.report.DatasetType, err)
	}
	r.report.ReplacedRecords = res.Deleted
	r.log.Info("records replaced",
		zap.String("dataset", string(r.report.DatasetType)),
		zap.Int64("deleted", res.Deleted),
		zap.Int64("inserted", res.Inserted),
	)
	return nil
}

// Resolve matches a single row against the current roster. It backs the
// match debugging command.
func (im *Importer) Resolve(ctx context.Context, dataset records.DatasetType, row map[string]string) (match.Result, bool, error) {
	students, err := im.store.ListStudents(ctx)
	if err != nil {
		return match.Result{}, false, fmt.Errorf("load roster: %w", err)
	}
	matcher := match.New(roster.Build(students), im.tables.Table(string(dataset)), im.matchOpts...)
	res, ok := matcher.Resolve(row, nil)
	return res, ok, nil
}
