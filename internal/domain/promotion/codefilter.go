package promotion

import (
	"context"
	"strings"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
)

var _ Repository = (*CodeFilter)(nil)

// CodeFilter fronts a Repository with a bloom filter of known promotion
// codes so that lookups for bogus codes fail fast without a database round
// trip. Codes are folded to upper case on both sides of the filter, matching
// the repository's case-insensitive lookup. False positives fall through to
// the underlying repository; false negatives cannot occur for codes present
// at warm-up or added via Add.
type CodeFilter struct {
	repo   Repository
	filter *bloom.BloomFilter
}

// NewCodeFilter builds a CodeFilter sized for capacity codes at the given
// false-positive rate and warms it with every code the repository knows.
func NewCodeFilter(ctx context.Context, repo Repository, capacity uint, fpRate float64) (*CodeFilter, error) {
	codes, err := repo.ListCodes(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list promotion codes")
	}

	filter := bloom.NewWithEstimates(capacity, fpRate)
	for _, code := range codes {
		filter.AddString(strings.ToUpper(code))
	}

	return &CodeFilter{repo: repo, filter: filter}, nil
}

// FindByCode returns ErrNotFound without touching the repository when the
// filter rules the code out.
func (f *CodeFilter) FindByCode(ctx context.Context, code string) (*Promotion, error) {
	if !f.filter.TestString(strings.ToUpper(code)) {
		return nil, ErrNotFound
	}
	return f.repo.FindByCode(ctx, code)
}

// ListCodes delegates to the underlying repository.
func (f *CodeFilter) ListCodes(ctx context.Context) ([]string, error) {
	return f.repo.ListCodes(ctx)
}

// Add records a newly created code so subsequent lookups are not rejected
// by the filter.
func (f *CodeFilter) Add(code string) {
	f.filter.AddString(strings.ToUpper(code))
}
