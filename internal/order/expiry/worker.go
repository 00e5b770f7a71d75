package expiry

import (
	"context"
	"errors"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/barva88/trauck/internal/clock"
	orderdomain "github.com/barva88/trauck/internal/order/domain"
)

type Params struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	Clock  clock.Clock
	Config Config `optional:"true"`
}

// Worker voids guarantee windows whose end has passed. Voiding is lazy:
// eligibility checks already compare against ends_at, the worker just
// keeps the window table honest for reporting.
type Worker struct {
	db    *gorm.DB
	log   *zap.Logger
	clock clock.Clock
	cfg   Config
}

func NewWorker(p Params) *Worker {
	return &Worker{
		db:    p.DB,
		log:   p.Log.Named("order.expiry"),
		clock: p.Clock,
		cfg:   p.Config.withDefaults(),
	}
}

func (w *Worker) RunForever(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if n, err := w.RunOnce(); err != nil {
			w.log.Warn("guarantee expiry run failed", zap.Error(err))
		} else if n > 0 {
			w.log.Info("guarantee windows voided", zap.Int64("count", n))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (w *Worker) RunOnce() (int64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return w.voidExpired(ctx, w.cfg.BatchSize)
}

func (w *Worker) voidExpired(ctx context.Context, limit int) (int64, error) {
	if w.db == nil {
		return 0, errors.New("expiry_worker_unavailable")
	}
	if limit <= 0 {
		limit = w.cfg.BatchSize
	}

	now := w.clock.Now()
	res := w.db.WithContext(ctx).Exec(
		`UPDATE guarantee_windows
		 SET status = ?, updated_at = ?
		 WHERE id IN (
		     SELECT id FROM guarantee_windows
		     WHERE status = ? AND ends_at < ?
		     LIMIT ?
		 )`,
		orderdomain.WindowVoid,
		now,
		orderdomain.WindowActive,
		now,
		limit,
	)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}
