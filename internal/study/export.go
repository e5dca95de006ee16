package study

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ashureev/recall-study/internal/domain"
)

// Export builds the result record for ratings at now.
func Export(ratings domain.Ratings, now time.Time) domain.ExportRecord {
	rec := domain.ExportRecord{Timestamp: now.UTC().Format(time.RFC3339Nano)}
	if ratings.AgentA != nil {
		a := *ratings.AgentA
		rec.AgentA = &a
	}
	if ratings.AgentB != nil {
		b := *ratings.AgentB
		rec.AgentB = &b
	}
	return rec
}

// ExportFileName returns the download name for a record exported at now.
func ExportFileName(now time.Time) string {
	return fmt.Sprintf("chat-study-ratings-%d.json", now.UnixMilli())
}

// MarshalExport encodes rec the way it is downloaded.
func MarshalExport(rec domain.ExportRecord) ([]byte, error) {
	return json.MarshalIndent(rec, "", "  ")
}

// TriggerExport produces the result record of a completed study and emits it.
func (c *Controller) TriggerExport(_ context.Context) (domain.ExportRecord, string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.s.Phase != domain.PhaseFinal {
		return domain.ExportRecord{}, "", c.reject(fmt.Errorf("%w: study is not complete", ErrSequence))
	}

	now := c.now()
	rec := Export(c.s.Ratings, now)
	name := ExportFileName(now)
	c.emit(Event{Kind: EventExportRequested, Record: &rec, FileName: name})
	return rec, name, nil
}
