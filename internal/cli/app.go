package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/vincentbai/sitetrace-agent/internal/blob"
	"github.com/vincentbai/sitetrace-agent/internal/codec"
	"github.com/vincentbai/sitetrace-agent/internal/config"
	"github.com/vincentbai/sitetrace-agent/internal/database"
	"github.com/vincentbai/sitetrace-agent/internal/logging"
	"github.com/vincentbai/sitetrace-agent/internal/mail"
	"github.com/vincentbai/sitetrace-agent/internal/metrics"
	"github.com/vincentbai/sitetrace-agent/internal/report"
	"github.com/vincentbai/sitetrace-agent/internal/store"
)

// app is the wiring shared by every command that touches stored data.
type app struct {
	cfg    *config.Config
	logger *zap.Logger
	codec  *codec.Codec
	store  *store.Store
	db     *database.Database // set for the sqlite backend

	closers []func() error
}

func bootstrap(ctx context.Context, envFile string) (*app, error) {
	cfg, err := config.Load(envFile)
	if err != nil {
		return nil, err
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, err
	}
	if cfg.InsecureSecret {
		logger.Warn("ANALYTICS_ENCRYPTION_KEY is not set, using the built-in development secret")
	}

	c, err := codec.New(cfg.Secret)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger, codec: c}
	backend, err := a.openBackend(ctx)
	if err != nil {
		return nil, err
	}
	a.store = store.New(backend, c, logger.Named("store"), store.WithCapacity(cfg.StoreCapacity))

	logger.Debug("store ready",
		zap.String("backend", cfg.StoreBackend),
		zap.String("data_dir", cfg.DataDir),
		zap.Int("capacity", cfg.StoreCapacity),
	)
	return a, nil
}

// openBackend builds the blob backend named by STORE_BACKEND.
func (a *app) openBackend(ctx context.Context) (blob.Backend, error) {
	cfg := a.cfg
	switch cfg.StoreBackend {
	case "file":
		return blob.NewFile(cfg.StorePath())
	case "sqlite":
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
		db, err := database.NewDatabase(cfg.StorePath(), "analytics")
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, db.Close)
		a.db = db
		return db, nil
	case "s3":
		return blob.NewS3(ctx, blob.S3Config{
			Bucket:         cfg.S3.Bucket,
			Key:            cfg.S3.Key,
			Region:         cfg.S3.Region,
			AccessKeyID:    cfg.S3.AccessKeyID,
			SecretKey:      cfg.S3.SecretKey,
			Endpoint:       cfg.S3.Endpoint,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
	case "redis":
		r, err := blob.NewRedis(ctx, cfg.Redis.URL, cfg.Redis.Key)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, r.Close)
		return r, nil
	case "memory":
		return blob.NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}

// seedMetrics sets the stored-sessions gauge before the first append.
func (a *app) seedMetrics(ctx context.Context) {
	n, err := a.store.Len(ctx)
	if err != nil {
		a.logger.Warn("unable to count stored sessions", zap.Error(err))
		return
	}
	metrics.SessionsStored.Set(float64(n))
}

// lastSaved reports when the sqlite blob was last written. It reports false
// for other backends and for a database that was never written.
func (a *app) lastSaved(ctx context.Context) (time.Time, bool) {
	if a.db == nil {
		return time.Time{}, false
	}
	saved, err := a.db.UpdatedAt(ctx)
	if err != nil {
		a.logger.Warn("unable to read store timestamp", zap.Error(err))
		return time.Time{}, false
	}
	return saved, !saved.IsZero()
}

func (a *app) reporter() (*report.Reporter, *time.Location, error) {
	loc, err := time.LoadLocation(a.cfg.Report.Timezone)
	if err != nil {
		return nil, nil, fmt.Errorf("report timezone: %w", err)
	}
	sender, err := mail.New(a.cfg.Mail, a.cfg.Report.Sender)
	if err != nil {
		return nil, nil, err
	}
	r, err := report.New(a.store, sender, a.cfg.Report.Recipient, loc, a.logger.Named("report"))
	if err != nil {
		return nil, nil, err
	}
	return r, loc, nil
}

func (a *app) scheduler() (*report.Scheduler, error) {
	r, loc, err := a.reporter()
	if err != nil {
		return nil, err
	}
	return report.NewScheduler(r, a.cfg.Report.Cron, loc, a.logger.Named("report"))
}

func (a *app) close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	_ = logging.Sync(a.logger)
	return errors.Join(errs...)
}
