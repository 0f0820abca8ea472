package promotion

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingRepo matches codes case-insensitively, mirroring the SQL
// repository's UPPER(code) = UPPER($1) lookup.
type countingRepo struct {
	promo *Promotion
	calls int
}

func (r *countingRepo) FindByCode(_ context.Context, code string) (*Promotion, error) {
	r.calls++
	if r.promo != nil && strings.EqualFold(r.promo.Code, code) {
		return r.promo, nil
	}
	return nil, ErrNotFound
}

func (r *countingRepo) ListCodes(_ context.Context) ([]string, error) {
	if r.promo == nil {
		return nil, nil
	}
	return []string{r.promo.Code}, nil
}

func TestCodeFilter(t *testing.T) {
	repo := &countingRepo{promo: &Promotion{Code: "SAVE10", Active: true}}

	f, err := NewCodeFilter(context.Background(), repo, 1000, 0.001)
	require.NoError(t, err)

	t.Run("known code falls through to repository", func(t *testing.T) {
		got, err := f.FindByCode(context.Background(), "SAVE10")
		require.NoError(t, err)
		assert.Equal(t, "SAVE10", got.Code)
		assert.Equal(t, 1, repo.calls)
	})

	t.Run("lookup is case-insensitive like the repository", func(t *testing.T) {
		got, err := f.FindByCode(context.Background(), "save10")
		require.NoError(t, err, "filter must not reject a code the repository accepts")
		assert.Equal(t, "SAVE10", got.Code)

		got, err = f.FindByCode(context.Background(), "Save10")
		require.NoError(t, err)
		assert.Equal(t, "SAVE10", got.Code)
	})

	t.Run("unknown code short-circuits", func(t *testing.T) {
		calls := repo.calls
		_, err := f.FindByCode(context.Background(), "DEFINITELY-NOT-A-CODE")
		require.ErrorIs(t, err, ErrNotFound)
		assert.Equal(t, calls, repo.calls, "filter miss must not hit the repository")
	})

	t.Run("added code reaches the repository", func(t *testing.T) {
		f.Add("LATER20")
		calls := repo.calls
		_, err := f.FindByCode(context.Background(), "LATER20")
		require.ErrorIs(t, err, ErrNotFound)
		assert.Equal(t, calls+1, repo.calls, "added code passes the filter")
	})

	t.Run("added code matches regardless of case", func(t *testing.T) {
		f.Add("later30")
		calls := repo.calls
		_, err := f.FindByCode(context.Background(), "LATER30")
		require.ErrorIs(t, err, ErrNotFound)
		assert.Equal(t, calls+1, repo.calls, "case folding applies to added codes too")
	})
}
