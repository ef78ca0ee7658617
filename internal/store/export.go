package store

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
)

// ExportJSONL writes every run in l, with details, one JSON object per
// line, oldest first.
func ExportJSONL(ctx context.Context, l Ledger, w io.Writer) (int, error) {
	runs, err := l.List(ctx, 0)
	if err != nil {
		return 0, err
	}
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	for i := len(runs) - 1; i >= 0; i-- {
		run, err := l.Get(ctx, runs[i].ID)
		if err != nil {
			return 0, fmt.Errorf("failed to load run %s: %w", runs[i].ID, err)
		}
		if err := enc.Encode(run); err != nil {
			return 0, fmt.Errorf("failed to encode run %s: %w", run.ID, err)
		}
	}
	if err := bw.Flush(); err != nil {
		return 0, fmt.Errorf("failed to flush export: %w", err)
	}
	return len(runs), nil
}

// ImportJSONL records every run read from r. Runs already present are
// skipped.
func ImportJSONL(ctx context.Context, l Ledger, r io.Reader) (imported int, err error) {
	sc := bufio.NewScanner(r)
	buf := make([]byte, 0, 64*1024)
	sc.Buffer(buf, 16*1024*1024)

	lineNum := 0
	for sc.Scan() {
		lineNum++
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var run Run
		if err := json.Unmarshal(line, &run); err != nil {
			return imported, fmt.Errorf("line %d: %w", lineNum, err)
		}
		if run.ID != "" {
			if _, err := l.Get(ctx, run.ID); err == nil {
				continue
			}
		}
		if _, err := l.Record(ctx, &run); err != nil {
			return imported, fmt.Errorf("line %d: %w", lineNum, err)
		}
		imported++
	}
	if err := sc.Err(); err != nil {
		return imported, fmt.Errorf("scanner error: %w", err)
	}
	return imported, nil
}
