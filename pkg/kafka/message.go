package kafka

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/Ramsey-B/fern/pkg/models"
)

// RecordsMessage is one delivery from the scrape feed: the records of a run
// plus the run identifier, when the fetcher sent one.
type RecordsMessage struct {
	CrawlRunID string             `json:"run_id"`
	Records    []models.RawRecord `json:"records"`
}

// envelope is the preferred wire shape. Older fetchers publish a bare array
// of records, or a single record object, and both still parse.
type envelope struct {
	RunID   string             `json:"run_id"`
	Records []models.RawRecord `json:"records"`
}

// ParseRecordsMessage decodes a feed message. It accepts the run envelope, a
// bare JSON array of records, or a single record object.
func ParseRecordsMessage(value []byte) (*RecordsMessage, error) {
	trimmed := bytes.TrimSpace(value)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty message")
	}

	if trimmed[0] == '[' {
		var records []models.RawRecord
		if err := json.Unmarshal(trimmed, &records); err != nil {
			return nil, fmt.Errorf("failed to parse record array: %w", err)
		}
		return &RecordsMessage{Records: records}, nil
	}

	var env envelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return nil, fmt.Errorf("failed to parse message as JSON: %w", err)
	}
	if env.Records != nil {
		return &RecordsMessage{CrawlRunID: env.RunID, Records: env.Records}, nil
	}

	// Not an envelope: the object itself is one scraped record.
	var record models.RawRecord
	if err := json.Unmarshal(trimmed, &record); err != nil {
		return nil, fmt.Errorf("failed to parse record: %w", err)
	}
	delete(record, "run_id")
	return &RecordsMessage{CrawlRunID: env.RunID, Records: []models.RawRecord{record}}, nil
}
