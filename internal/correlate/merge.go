package correlate

import (
	"go.uber.org/zap"

	"github.com/xkilldash9x/adarchive/api/schemas"
)

// Merge builds the canonical record set from creatives and attaches
// performance data to it.
//
// Creatives define the records, keyed by archive id; a repeated id keeps its
// first occurrence. A performance payload that names an archive id is joined
// on it. One that does not is joined by position: the Nth performance payload
// goes to the Nth record. Positional joins assume both streams were harvested
// in the same order and are only as good as that assumption.
func Merge(creatives []Creative, perfs []Performance, logger *zap.Logger) ([]schemas.AdRecord, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	records := make([]schemas.AdRecord, 0, len(creatives))
	index := make(map[string]int, len(creatives))
	for _, c := range creatives {
		if _, dup := index[c.ArchiveID]; dup {
			logger.Warn("Dropping repeated creative", zap.String("archive_id", c.ArchiveID))
			continue
		}
		index[c.ArchiveID] = len(records)
		records = append(records, c.Record)
	}

	attached := make([]bool, len(records))
	warnedPositional := false
	for i, p := range perfs {
		target := i
		if p.ArchiveID != "" {
			pos, ok := index[p.ArchiveID]
			if !ok {
				return nil, &CorrelationError{Index: i, ArchiveID: p.ArchiveID, Reason: "no creative record has this archive id"}
			}
			target = pos
		} else {
			if !warnedPositional {
				logger.Warn("Performance payload has no archive id; joining by position",
					zap.Int("index", i))
				warnedPositional = true
			}
			if target >= len(records) {
				return nil, &CorrelationError{Index: i, Reason: "more performance payloads than creative records"}
			}
		}

		if attached[target] {
			logger.Warn("Record already has performance data; keeping the first",
				zap.Int("index", i), zap.Int("record", target))
			continue
		}
		attached[target] = true

		rec := &records[target]
		rec.Impressions = schemas.Ptr(p.Impressions)
		rec.Spend = schemas.Ptr(p.Spend)
		if p.Artifact != "" {
			rec.PerformanceLog = schemas.Ptr(p.Artifact)
		}
	}
	return records, nil
}

// Assign sets the screenshot path of each record from its position in
// output order, then truncates to limit (limit <= 0 keeps everything).
// Records beyond the available screenshots keep a nil path.
func Assign(records []schemas.AdRecord, screenshots []string, limit int) []schemas.AdRecord {
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	for i := range records {
		if i < len(screenshots) && screenshots[i] != "" {
			records[i].Screenshot = schemas.Ptr(screenshots[i])
		}
	}
	return records
}
