package sink

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/use-agent/slopeharvest/geoid"
	"github.com/use-agent/slopeharvest/models"
)

var failureHeader = []string{"geoid", "source", "url", "error_kind", "detail", "timestamp"}

// FileSink writes per-run timestamped files into one output directory:
//
//	records_<ts>.jsonl   one merged record per line, append-only
//	failures_<ts>.csv    one row per terminal per-source failure
//	stats_<ts>.json      statistics snapshot, overwritten on each flush
//	<dataset file>       consolidated dataset across all runs in the dir
//
// Every append is synced before the call returns; a crash afterwards must
// not lose the row.
type FileSink struct {
	dir         string
	datasetPath string
	statsPath   string

	mu       sync.Mutex
	records  *os.File
	recEnc   *json.Encoder
	failures *os.File
	failCSV  *csv.Writer
}

// NewFileSink creates the output directory and opens this run's files.
func NewFileSink(dir, datasetFile string) (*FileSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, sinkErr("create output directory", err)
	}

	ts := time.Now().Format("20060102_150405")

	records, err := os.OpenFile(
		filepath.Join(dir, fmt.Sprintf("records_%s.jsonl", ts)),
		os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644,
	)
	if err != nil {
		return nil, sinkErr("open records file", err)
	}

	failures, err := os.OpenFile(
		filepath.Join(dir, fmt.Sprintf("failures_%s.csv", ts)),
		os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644,
	)
	if err != nil {
		records.Close()
		return nil, sinkErr("open failure log", err)
	}

	failCSV := csv.NewWriter(failures)
	if err := failCSV.Write(failureHeader); err != nil {
		records.Close()
		failures.Close()
		return nil, sinkErr("write failure log header", err)
	}
	failCSV.Flush()
	if err := failCSV.Error(); err != nil {
		records.Close()
		failures.Close()
		return nil, sinkErr("flush failure log header", err)
	}

	return &FileSink{
		dir:         dir,
		datasetPath: filepath.Join(dir, datasetFile),
		statsPath:   filepath.Join(dir, fmt.Sprintf("stats_%s.json", ts)),
		records:     records,
		recEnc:      json.NewEncoder(records),
		failures:    failures,
		failCSV:     failCSV,
	}, nil
}

// RecordSuccess appends one merged record as a JSONL row and syncs.
func (s *FileSink) RecordSuccess(rec *models.MergedRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.recEnc.Encode(rec); err != nil {
		return sinkErr("encode record", err)
	}
	if err := s.records.Sync(); err != nil {
		return sinkErr("sync records file", err)
	}
	return nil
}

// RecordFailure appends one CSV row per source error and syncs.
func (s *FileSink) RecordFailure(fr *models.FailureRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, se := range fr.Errors {
		row := []string{
			string(fr.GeoID),
			string(se.Source),
			se.URL,
			se.Code,
			se.Detail,
			se.Timestamp.UTC().Format(time.RFC3339),
		}
		if err := s.failCSV.Write(row); err != nil {
			return sinkErr("write failure row", err)
		}
	}
	s.failCSV.Flush()
	if err := s.failCSV.Error(); err != nil {
		return sinkErr("flush failure log", err)
	}
	if err := s.failures.Sync(); err != nil {
		return sinkErr("sync failure log", err)
	}
	return nil
}

// FlushStatistics rewrites the stats file with the given snapshot.
func (s *FileSink) FlushStatistics(stats *models.RunStats) error {
	buf, err := json.MarshalIndent(stats, "", "  ")
	if err != nil {
		return sinkErr("marshal statistics", err)
	}
	if err := os.WriteFile(s.statsPath, buf, 0o644); err != nil {
		return sinkErr("write statistics", err)
	}
	return nil
}

// Recorded scans every records_*.jsonl in the directory (this run's file
// included) for complete records inside r.
func (s *FileSink) Recorded(r geoid.Range) (map[geoid.GeoID]bool, error) {
	done := make(map[geoid.GeoID]bool)
	err := s.scanRecords(func(rec *models.MergedRecord) {
		if rec.Status == models.StatusComplete && r.Contains(rec.GeoID) {
			done[rec.GeoID] = true
		}
	})
	if err != nil {
		return nil, err
	}
	return done, nil
}

// WriteDataset consolidates all record files into the dataset file: one
// entry per identifier, newest non-failed record wins, keyed by identifier.
func (s *FileSink) WriteDataset() error {
	latest := make(map[geoid.GeoID]*models.MergedRecord)
	err := s.scanRecords(func(rec *models.MergedRecord) {
		if rec.Status == models.StatusFailed {
			return
		}
		prev, ok := latest[rec.GeoID]
		if !ok || rec.ScrapedAt.After(prev.ScrapedAt) {
			r := *rec
			latest[rec.GeoID] = &r
		}
	})
	if err != nil {
		return err
	}

	dataset := make(map[string]*models.MergedRecord, len(latest))
	for id, rec := range latest {
		dataset[string(id)] = rec
	}

	buf, err := json.MarshalIndent(dataset, "", "  ")
	if err != nil {
		return sinkErr("marshal dataset", err)
	}

	// Write-then-rename so the dashboard never reads a half-written file.
	tmp := s.datasetPath + ".tmp"
	if err := os.WriteFile(tmp, buf, 0o644); err != nil {
		return sinkErr("write dataset", err)
	}
	if err := os.Rename(tmp, s.datasetPath); err != nil {
		return sinkErr("replace dataset", err)
	}
	return nil
}

// Close syncs and closes the output files. The dataset is NOT rewritten
// here; the orchestrator decides when consolidation happens.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.failCSV.Flush()
	var firstErr error
	if err := s.failCSV.Error(); err != nil {
		firstErr = sinkErr("flush failure log", err)
	}
	if err := s.records.Close(); err != nil && firstErr == nil {
		firstErr = sinkErr("close records file", err)
	}
	if err := s.failures.Close(); err != nil && firstErr == nil {
		firstErr = sinkErr("close failure log", err)
	}
	return firstErr
}

// scanRecords streams every record row in the directory through fn,
// oldest file first. Unreadable rows are skipped: a torn final line from a
// killed run must not poison resumability.
func (s *FileSink) scanRecords(fn func(*models.MergedRecord)) error {
	paths, err := filepath.Glob(filepath.Join(s.dir, "records_*.jsonl"))
	if err != nil {
		return sinkErr("scan output directory", err)
	}
	sort.Strings(paths)

	for _, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			return sinkErr("open prior records file", err)
		}
		dec := json.NewDecoder(f)
		for {
			var rec models.MergedRecord
			if err := dec.Decode(&rec); err != nil {
				break
			}
			fn(&rec)
		}
		f.Close()
	}
	return nil
}

func sinkErr(msg string, err error) error {
	return models.NewHarvestError(models.ErrCodeSinkWrite, msg, err)
}
