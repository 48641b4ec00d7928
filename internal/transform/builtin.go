package transform

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/vexsearch/offstore/internal/partition"
	"github.com/vexsearch/offstore/internal/value"
)

type regexReplace struct {
	re          *regexp.Regexp
	replacement string
}

// backref matches \1 style group references.
var backref = regexp.MustCompile(`\\(\d+)`)

func newRegexReplace(cfg Config) (Transform, error) {
	if cfg.Pattern == "" {
		return nil, fmt.Errorf("%w: %s requires a pattern", ErrInvalidParameters, TypeRegexReplace)
	}
	re, err := regexp.Compile(cfg.Pattern)
	if err != nil {
		return nil, fmt.Errorf("%w: %s pattern: %v", ErrInvalidParameters, TypeRegexReplace, err)
	}
	return regexReplace{re: re, replacement: backref.ReplaceAllString(cfg.Replacement, "$${$1}")}, nil
}

func (regexReplace) Name() string { return TypeRegexReplace }

func (t regexReplace) ApplyValue(v any) Outcome {
	s, ok := value.String(v)
	if !ok {
		return Outcome{Value: v}
	}
	return Outcome{Value: t.re.ReplaceAllString(s, t.replacement)}
}

type prefixSuffix struct {
	prefix, suffix string
}

func newPrefixSuffix(cfg Config) (Transform, error) {
	if cfg.Prefix == "" && cfg.Suffix == "" {
		return nil, fmt.Errorf("%w: %s requires a prefix or a suffix", ErrInvalidParameters, TypePrefixSuffix)
	}
	return prefixSuffix{prefix: cfg.Prefix, suffix: cfg.Suffix}, nil
}

func (prefixSuffix) Name() string { return TypePrefixSuffix }

func (t prefixSuffix) ApplyValue(v any) Outcome {
	s, ok := value.String(v)
	if !ok {
		return Outcome{Value: v}
	}
	return Outcome{Value: t.prefix + s + t.suffix}
}

type caseFold struct {
	upper bool
}

func (t caseFold) Name() string {
	if t.upper {
		return TypeUppercase
	}
	return TypeLowercase
}

func (t caseFold) ApplyValue(v any) Outcome {
	s, ok := value.String(v)
	if !ok {
		return Outcome{Value: v}
	}
	if t.upper {
		return Outcome{Value: strings.ToUpper(s)}
	}
	return Outcome{Value: strings.ToLower(s)}
}

type copyFromColumn struct {
	source string
}

func newCopyFromColumn(cfg Config) (Transform, error) {
	if cfg.SourceColumn == "" {
		return nil, fmt.Errorf("%w: %s requires a source column", ErrInvalidParameters, TypeCopyFromColumn)
	}
	return copyFromColumn{source: cfg.SourceColumn}, nil
}

func (copyFromColumn) Name() string { return TypeCopyFromColumn }

func (t copyFromColumn) ApplyRow(row partition.Row) Outcome {
	return Outcome{Value: row[t.source]}
}

// SourceColumn returns the column values are copied from.
func (t copyFromColumn) SourceColumn() string { return t.source }
