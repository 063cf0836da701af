// Package sentences holds the precomputed sentence dataset: sentences whose
// phoneme and model artifacts were computed offline, keyed by normalized text.
package sentences

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/book-expert/logger"
	"github.com/book-expert/pronunciation-service/internal/core"
	"github.com/book-expert/pronunciation-service/internal/text"
)

// Dataset columns. Unknown columns are ignored.
const (
	ColumnID       = "id"
	ColumnOrder    = "order"
	ColumnLevel    = "level"
	ColumnSentence = "sentence"
	ColumnLetters  = "syll_ltrs"
	ColumnPhonemes = "syll_phns"
	ColumnModel    = "fst"
	ColumnSource   = "source"
)

// DefaultSource tags entries loaded from the dataset.
const DefaultSource = "precomputed"

const (
	logFmtLoaded     = "Loaded %d precomputed sentences from %s (%d rows skipped)"
	logFmtSkippedRow = "Skipping dataset row %d: %v"
	logFmtLoadFailed = "Precomputed sentence dataset unavailable, all evaluations run live: %v"
	logFmtDuplicate  = "Duplicate dataset sentence %q (id %d), keeping id %d"
)

// Header columns every dataset must carry.
var requiredColumns = []string{ColumnID, ColumnOrder, ColumnSentence, ColumnLetters, ColumnPhonemes, ColumnModel}

var (
	// ErrMissingColumn indicates a dataset header without a required column.
	ErrMissingColumn = errors.New("dataset is missing a required column")
	// ErrBadRow indicates a row that cannot be turned into an entry.
	ErrBadRow = errors.New("malformed dataset row")
)

// Cache is the lazily loaded, immutable sentence dataset. After EnsureLoaded
// returns it is safe for concurrent reads without further locking.
type Cache struct {
	path string
	log  *logger.Logger

	once    sync.Once
	loadErr error
	ordered []core.PrecomputedSentence
	byText  map[string]int
}

// NewCache creates a cache for the dataset at path. Nothing is read until first use.
func NewCache(path string, log *logger.Logger) *Cache {
	return &Cache{path: path, log: log}
}

// EnsureLoaded reads the dataset once. Later calls return the first outcome.
func (c *Cache) EnsureLoaded() error {
	c.once.Do(c.load)

	return c.loadErr
}

func (c *Cache) load() {
	file, err := os.Open(c.path)
	if err != nil {
		c.loadErr = fmt.Errorf("failed to open dataset %s: %w", c.path, err)
		c.log.Warn(logFmtLoadFailed, c.loadErr)

		return
	}
	defer file.Close()

	entries, skipped, err := Parse(file, c.log)
	if err != nil {
		c.loadErr = fmt.Errorf("failed to parse dataset %s: %w", c.path, err)
		c.log.Warn(logFmtLoadFailed, c.loadErr)

		return
	}

	c.ordered = entries
	c.byText = make(map[string]int, len(entries))

	for i, entry := range entries {
		if first, seen := c.byText[entry.Text]; seen {
			c.log.Warn(logFmtDuplicate, entry.Text, entry.ID, entries[first].ID)

			continue
		}

		c.byText[entry.Text] = i
	}

	c.log.Info(logFmtLoaded, len(entries), c.path, skipped)
}

// Lookup returns the entry whose normalized text equals the normalized input.
// A dataset that failed to load behaves as empty.
func (c *Cache) Lookup(sentence string) (*core.PrecomputedSentence, bool) {
	if c.EnsureLoaded() != nil {
		return nil, false
	}

	idx, ok := c.byText[text.NormalizeSpaces(sentence)]
	if !ok {
		return nil, false
	}

	entry := c.ordered[idx]

	return &entry, true
}

// List returns all entries sorted by order, then id.
func (c *Cache) List() []core.PrecomputedSentence {
	if c.EnsureLoaded() != nil {
		return nil
	}

	out := make([]core.PrecomputedSentence, len(c.ordered))
	copy(out, c.ordered)

	return out
}

// Len returns the number of loaded entries.
func (c *Cache) Len() int {
	if c.EnsureLoaded() != nil {
		return 0
	}

	return len(c.ordered)
}

// Parse reads a dataset CSV with a header row. Rows that cannot be parsed are
// logged and skipped; only an unreadable header fails the whole parse. The
// returned entries are sorted by order, then id.
func Parse(r io.Reader, log *logger.Logger) ([]core.PrecomputedSentence, int, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read dataset header: %w", err)
	}

	columns, err := indexColumns(header)
	if err != nil {
		return nil, 0, err
	}

	var (
		entries []core.PrecomputedSentence
		skipped int
	)

	for line := 2; ; line++ {
		record, readErr := reader.Read()
		if errors.Is(readErr, io.EOF) {
			break
		}

		if readErr == nil {
			var entry core.PrecomputedSentence

			entry, readErr = parseRow(record, columns)
			if readErr == nil {
				entries = append(entries, entry)

				continue
			}
		}

		var parseErr *csv.ParseError
		if readErr != nil && !errors.As(readErr, &parseErr) && !errors.Is(readErr, ErrBadRow) {
			return nil, skipped, fmt.Errorf("failed to read dataset: %w", readErr)
		}

		skipped++

		if log != nil {
			log.Warn(logFmtSkippedRow, line, readErr)
		}
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Order != entries[j].Order {
			return entries[i].Order < entries[j].Order
		}

		return entries[i].ID < entries[j].ID
	})

	return entries, skipped, nil
}

func indexColumns(header []string) (map[string]int, error) {
	columns := make(map[string]int, len(header))

	for i, name := range header {
		name = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))
		columns[name] = i
	}

	for _, required := range requiredColumns {
		if _, ok := columns[required]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingColumn, required)
		}
	}

	return columns, nil
}

// parseRow trims the descriptive columns only. Artifacts are opaque and are
// kept byte for byte.
func parseRow(record []string, columns map[string]int) (core.PrecomputedSentence, error) {
	raw := func(name string) string {
		idx, ok := columns[name]
		if !ok || idx >= len(record) {
			return ""
		}

		return record[idx]
	}

	field := func(name string) string {
		return strings.TrimSpace(raw(name))
	}

	id, err := strconv.Atoi(field(ColumnID))
	if err != nil {
		return core.PrecomputedSentence{}, fmt.Errorf("%w: id: %w", ErrBadRow, err)
	}

	order, err := strconv.Atoi(field(ColumnOrder))
	if err != nil {
		return core.PrecomputedSentence{}, fmt.Errorf("%w: order: %w", ErrBadRow, err)
	}

	sentence := text.NormalizeSpaces(field(ColumnSentence))
	if sentence == "" {
		return core.PrecomputedSentence{}, fmt.Errorf("%w: empty sentence", ErrBadRow)
	}

	source := field(ColumnSource)
	if source == "" {
		source = DefaultSource
	}

	return core.PrecomputedSentence{
		ID:               id,
		Order:            order,
		Level:            field(ColumnLevel),
		Text:             sentence,
		SyllableLetters:  raw(ColumnLetters),
		SyllablePhonemes: raw(ColumnPhonemes),
		ModelBlob:        raw(ColumnModel),
		Source:           source,
	}, nil
}

// Header returns the column order written by WriteCSV.
func Header() []string {
	return []string{ColumnID, ColumnOrder, ColumnLevel, ColumnSentence, ColumnLetters, ColumnPhonemes, ColumnModel}
}

// WriteCSV writes entries in the dataset format read by Parse. CSV reading
// folds "\r\n" inside quoted fields to "\n", so artifacts must not contain
// carriage returns.
func WriteCSV(w io.Writer, entries []core.PrecomputedSentence) error {
	writer := csv.NewWriter(w)

	err := writer.Write(Header())
	if err != nil {
		return fmt.Errorf("failed to write dataset header: %w", err)
	}

	for _, entry := range entries {
		err = writer.Write([]string{
			strconv.Itoa(entry.ID),
			strconv.Itoa(entry.Order),
			entry.Level,
			entry.Text,
			entry.SyllableLetters,
			entry.SyllablePhonemes,
			entry.ModelBlob,
		})
		if err != nil {
			return fmt.Errorf("failed to write dataset row %d: %w", entry.ID, err)
		}
	}

	writer.Flush()

	return writer.Error()
}
