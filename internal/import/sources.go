// Package importer loads sources from CSV files and seeds owners, sources
// and recipients from the application config.
package importer

import (
	"context"
	"database/sql"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"fedifeed/relay/internal/models"
	"fedifeed/relay/internal/scheduler"
	"fedifeed/relay/internal/storage"
)

// Store is the persistence the importer writes to.
type Store interface {
	storage.OwnerRepository
	storage.SourceRepository
	storage.RecipientRepository
}

// Summary describes the outcome of a CSV import.
type Summary struct {
	Total    int
	Imported int
	Errors   []string
}

// Importer handles the source import process
type Importer struct {
	store  Store
	client *http.Client
}

// NewImporter creates a new source importer
func NewImporter(store Store) *Importer {
	return &Importer{store: store, client: &http.Client{Timeout: time.Minute}}
}

// ImportSources imports sources from a local CSV file or an http(s) URL.
// Rows that already exist are reported as duplicates unless update is set,
// in which case their configuration is overwritten.
func (i *Importer) ImportSources(ctx context.Context, location string, update bool) (*Summary, error) {
	log.Info().Str("csv", location).Bool("update", update).Msg("Starting source import")

	data, err := i.open(ctx, location)
	if err != nil {
		return nil, fmt.Errorf("failed to get CSV data: %w", err)
	}
	defer data.Close()

	summary, err := i.importRows(ctx, data, update)
	if err != nil {
		return nil, fmt.Errorf("failed to import sources: %w", err)
	}

	log.Info().
		Int("total", summary.Total).
		Int("success", summary.Imported).
		Int("errors", len(summary.Errors)).
		Msg("Import summary")
	return summary, nil
}

func (i *Importer) open(ctx context.Context, location string) (io.ReadCloser, error) {
	if strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://") {
		return i.download(ctx, location)
	}
	log.Debug().Str("path", location).Msg("Using local CSV file")
	return os.Open(location)
}

func (i *Importer) download(ctx context.Context, url string) (io.ReadCloser, error) {
	log.Debug().Str("url", url).Msg("Downloading CSV file")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := i.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("failed to download file: HTTP status %d", resp.StatusCode)
	}
	return resp.Body, nil
}

type columns map[string]int

func (c columns) get(record []string, name string) sql.NullString {
	idx, ok := c[name]
	if !ok || idx >= len(record) {
		return sql.NullString{}
	}
	v := strings.TrimSpace(record[idx])
	return sql.NullString{String: v, Valid: v != ""}
}

func (c columns) flag(record []string, name string) (bool, error) {
	v := c.get(record, name)
	if !v.Valid {
		return true, nil
	}
	b, err := strconv.ParseBool(v.String)
	if err != nil {
		return false, fmt.Errorf("column %s: %q is not a boolean", name, v.String)
	}
	return b, nil
}

func (i *Importer) importRows(ctx context.Context, r io.Reader, update bool) (*Summary, error) {
	reader := csv.NewReader(r)
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, err
	}
	log.Debug().Strs("header", header).Msg("CSV header read")

	cols := columns{}
	for idx, name := range header {
		cols[strings.ToLower(strings.TrimSpace(name))] = idx
	}
	for _, required := range []string{"owner", "url"} {
		if _, ok := cols[required]; !ok {
			return nil, fmt.Errorf("required column '%s' not found in CSV header", required)
		}
	}

	summary := &Summary{}
	owners := map[string]models.OwnerID{}

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			// csv.ParseError carries its own line number.
			log.Warn().Err(err).Msg("Error reading CSV line")
			summary.Errors = append(summary.Errors, err.Error())
			continue
		}
		line, _ := reader.FieldPos(0)
		if len(record) == 0 || (len(record) == 1 && strings.TrimSpace(record[0]) == "") {
			continue
		}
		summary.Total++

		src, err := i.sourceFromRecord(ctx, cols, record, owners)
		if err != nil {
			summary.Errors = append(summary.Errors, fmt.Sprintf("line %d: %v", line, err))
			continue
		}

		logger := log.With().Int("line", line).Str("url", src.URL).Logger()
		if update {
			err = i.store.UpsertSource(ctx, src)
		} else {
			err = i.store.CreateSource(ctx, src)
		}
		if err != nil {
			if errors.Is(err, storage.ErrDuplicate) {
				logger.Warn().Msg("Duplicate URL")
				summary.Errors = append(summary.Errors, fmt.Sprintf("line %d: duplicate URL: %s", line, src.URL))
				continue
			}
			logger.Error().Err(err).Msg("Failed to insert source")
			summary.Errors = append(summary.Errors, fmt.Sprintf("line %d: %v", line, err))
			continue
		}

		summary.Imported++
		logger.Debug().Str("source_id", string(src.ID)).Msg("Source imported")
	}
	return summary, nil
}

func (i *Importer) sourceFromRecord(ctx context.Context, cols columns, record []string, owners map[string]models.OwnerID) (*models.Source, error) {
	username := cols.get(record, "owner")
	url := cols.get(record, "url")
	if !username.Valid {
		return nil, errors.New("empty owner")
	}
	if !url.Valid {
		return nil, errors.New("empty URL")
	}

	ownerID, ok := owners[username.String]
	if !ok {
		owner, err := i.store.GetOwnerByUsername(ctx, username.String)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return nil, fmt.Errorf("unknown owner %q", username.String)
			}
			return nil, err
		}
		ownerID = owner.ID
		owners[username.String] = ownerID
	}

	src := models.NewSource(ownerID, url.String)
	if title := cols.get(record, "title"); title.Valid {
		src.Title = title.String
	}
	src.Description = cols.get(record, "description")
	if schedule := cols.get(record, "schedule"); schedule.Valid {
		if _, err := scheduler.ParseSchedule(schedule.String); err != nil {
			return nil, err
		}
		src.Schedule = schedule.String
	}

	var err error
	if src.AutoDeliver, err = cols.flag(record, "auto_deliver"); err != nil {
		return nil, err
	}
	if src.Active, err = cols.flag(record, "active"); err != nil {
		return nil, err
	}
	return src, nil
}
