// Command promo-ingest bulk-loads promotion codes from gzip-compressed
// code lists. Each input file holds one code per line; codes seen in an
// earlier file are skipped. Every inserted promotion shares the discount
// template given on the command line.
package main

import (
	"bufio"
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/storely/promo-engine/internal/repository"
)

const (
	bloomCapacity = 10_000_000
	bloomFPR      = 0.001
	progressEvery = 1_000_000
	batchSize     = 1_000
	minCodeLen    = 4
	maxCodeLen    = 32
)

func main() {
	var (
		dataGlob     string
		databaseURL  string
		discountType string
		value        string
		minOrder     string
		perUser      int
		windowDays   int
	)

	flag.StringVar(&dataGlob, "data", "data/promocodes*.gz", "glob of gzip files, one code per line")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&discountType, "discount-type", "percentage", "discount type for ingested codes")
	flag.StringVar(&value, "value", "10", "discount value for ingested codes")
	flag.StringVar(&minOrder, "minimum-order", "0", "minimum order value for ingested codes")
	flag.IntVar(&perUser, "per-user-limit", 1, "usage limit per user (0 for unlimited)")
	flag.IntVar(&windowDays, "window-days", 30, "validity window in days from now")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	tmpl, err := parseTemplate(discountType, value, minOrder, perUser, windowDays)
	if err != nil {
		slog.Error("invalid promotion template", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if err := run(ctx, dataGlob, databaseURL, tmpl); err != nil {
		slog.Error("promotion ingest failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("promotion ingest completed successfully")
}

// promoTemplate is the shared shape of every ingested promotion.
type promoTemplate struct {
	discountType string
	value        decimal.Decimal
	minOrder     decimal.Decimal
	perUser      *int32
	startsAt     time.Time
	endsAt       time.Time
}

func parseTemplate(discountType, value, minOrder string, perUser, windowDays int) (promoTemplate, error) {
	switch discountType {
	case "percentage", "fixed_amount_order", "free_shipping":
	default:
		return promoTemplate{}, errors.Errorf("unknown discount type %q", discountType)
	}

	v, err := decimal.NewFromString(value)
	if err != nil {
		return promoTemplate{}, errors.Wrap(err, "parse value")
	}
	m, err := decimal.NewFromString(minOrder)
	if err != nil {
		return promoTemplate{}, errors.Wrap(err, "parse minimum order")
	}

	tmpl := promoTemplate{
		discountType: discountType,
		value:        v,
		minOrder:     m,
		startsAt:     time.Now(),
		endsAt:       time.Now().Add(time.Duration(windowDays) * 24 * time.Hour),
	}
	if perUser > 0 {
		limit := int32(perUser)
		tmpl.perUser = &limit
	}
	return tmpl, nil
}

func run(ctx context.Context, dataGlob, databaseURL string, tmpl promoTemplate) error {
	files, err := filepath.Glob(dataGlob)
	if err != nil {
		return errors.Wrap(err, "expand data glob")
	}
	if len(files) == 0 {
		return errors.Errorf("no files matched %q", dataGlob)
	}

	slog.Info("collecting codes", slog.Int("files", len(files)))

	codes, err := collectCodes(ctx, files)
	if err != nil {
		return errors.Wrap(err, "collect codes")
	}

	slog.Info("codes collected", slog.Int("count", len(codes)))

	if len(codes) == 0 {
		slog.Info("no codes to insert")
		return nil
	}

	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	if err := writePromotions(ctx, pool, codes, tmpl); err != nil {
		return errors.Wrap(err, "write promotions")
	}

	return nil
}

// collectCodes streams every file concurrently and merges the per-file
// results. A bloom filter per file keeps duplicate codes from producing
// duplicate inserts without holding every raw line in memory twice.
func collectCodes(ctx context.Context, files []string) ([]string, error) {
	perFile := make([][]string, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, f := range files {
		g.Go(collectFromFile(ctx, i, f, perFile))
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	var merged []string
	for _, codes := range perFile {
		for _, code := range codes {
			if _, ok := seen[code]; ok {
				continue
			}
			seen[code] = struct{}{}
			merged = append(merged, code)
		}
	}
	return merged, nil
}

func collectFromFile(ctx context.Context, idx int, path string, results [][]string) func() error {
	return func() error {
		filter := bloom.NewWithEstimates(bloomCapacity, bloomFPR)
		var (
			codes []string
			count uint64
		)

		if err := streamGzFile(ctx, path, func(code string) {
			count++
			if count%progressEvery == 0 {
				slog.Info("ingest progress",
					slog.Int("file", idx+1),
					slog.Uint64("lines", count),
				)
			}

			code = strings.ToUpper(strings.TrimSpace(code))
			if len(code) < minCodeLen || len(code) > maxCodeLen {
				return
			}
			if filter.TestOrAddString(code) {
				return
			}
			codes = append(codes, code)
		}); err != nil {
			return errors.Wrapf(err, "stream file %d", idx+1)
		}

		slog.Info("file complete",
			slog.Int("file", idx+1),
			slog.Uint64("lines", count),
			slog.Int("codes", len(codes)),
		)

		results[idx] = codes
		return nil
	}
}

// streamGzFile opens a gzip-compressed file and calls fn for each line.
func streamGzFile(ctx context.Context, path string, fn func(code string)) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrapf(err, "create gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	scanner := bufio.NewScanner(gz)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		fn(scanner.Text())
	}

	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "scan %s", path)
	}

	return nil
}

const insertPromotionSQL = `INSERT INTO promotions
	(code, discount_type, discount_value, minimum_order_value,
	 usage_limit_per_user, starts_at, ends_at, is_active)
	VALUES ($1, $2, $3, $4, $5, $6, $7, TRUE)
	ON CONFLICT (code) DO NOTHING`

// writePromotions inserts codes in batches so a large list does not turn
// into one round-trip per promotion.
func writePromotions(ctx context.Context, pool *pgxpool.Pool, codes []string, tmpl promoTemplate) error {
	slog.Info("writing promotions", slog.Int("count", len(codes)))

	for start := 0; start < len(codes); start += batchSize {
		end := min(start+batchSize, len(codes))

		batch := &pgx.Batch{}
		for _, code := range codes[start:end] {
			batch.Queue(insertPromotionSQL,
				code, tmpl.discountType, tmpl.value, tmpl.minOrder,
				tmpl.perUser, tmpl.startsAt, tmpl.endsAt,
			)
		}

		if err := pool.SendBatch(ctx, batch).Close(); err != nil {
			return errors.Wrapf(err, "insert batch starting at %d", start)
		}

		slog.Info("write progress", slog.Int("written", end), slog.Int("total", len(codes)))
	}

	return nil
}
