package transform

import (
	"fmt"
	"regexp"
	"time"

	"github.com/ncruces/go-strftime"

	"github.com/vexsearch/offstore/internal/eventtime"
	"github.com/vexsearch/offstore/internal/partition"
	"github.com/vexsearch/offstore/internal/value"
)

// DefaultPrefixPattern captures a YYYY-MM-DD date.
const DefaultPrefixPattern = `(\d{4}-\d{2}-\d{2})`

// TimeFormatAuto tries autoLayouts in order.
const TimeFormatAuto = "auto"

var autoLayouts = []string{
	"2006-01-02",
	"20060102150405",
	"20060102",
	time.RFC3339,
	"2006-01-02T15:04:05",
}

type extractTimePrefix struct {
	re         *regexp.Regexp
	timeFormat string
	toISO      bool
	source     string
	now        func() time.Time
}

func newExtractTimePrefix(cfg Config) (Transform, error) {
	source := cfg.SourceColumn
	if source == "" {
		source = cfg.IdentityColumn
	}
	if source == "" {
		return nil, fmt.Errorf("%w: %s requires a source column or an identity column", ErrInvalidParameters, TypeExtractTimePrefix)
	}
	pattern := cfg.PrefixPattern
	if pattern == "" {
		pattern = DefaultPrefixPattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("%w: %s prefix pattern: %v", ErrInvalidParameters, TypeExtractTimePrefix, err)
	}
	timeFormat := cfg.TimeFormat
	if timeFormat == "" {
		timeFormat = TimeFormatAuto
	}
	return &extractTimePrefix{
		re:         re,
		timeFormat: timeFormat,
		toISO:      cfg.ToISO,
		source:     source,
		now:        cfg.now,
	}, nil
}

func (*extractTimePrefix) Name() string { return TypeExtractTimePrefix }

// SourceColumn returns the column the timestamp is extracted from.
func (t *extractTimePrefix) SourceColumn() string { return t.source }

func (t *extractTimePrefix) fallback() Outcome {
	return Outcome{Value: eventtime.Format(t.now()), FellBackToNow: true}
}

func (t *extractTimePrefix) ApplyRow(row partition.Row) Outcome {
	s, ok := value.String(row[t.source])
	if !ok {
		return Outcome{}
	}
	m := t.re.FindStringSubmatch(s)
	if m == nil {
		if t.toISO {
			return t.fallback()
		}
		return Outcome{}
	}
	matched := m[0]
	if len(m) > 1 {
		matched = m[1]
	}
	if !t.toISO {
		return Outcome{Value: matched}
	}

	ts, ok := t.parse(matched)
	if !ok {
		return t.fallback()
	}
	return Outcome{Value: eventtime.Format(ts)}
}

func (t *extractTimePrefix) parse(s string) (time.Time, bool) {
	if t.timeFormat != TimeFormatAuto {
		ts, err := strftime.Parse(t.timeFormat, s)
		if err != nil {
			return time.Time{}, false
		}
		return ts, true
	}
	for _, layout := range autoLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, true
		}
	}
	return eventtime.ParseEpochString(s)
}
