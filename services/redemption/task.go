package redemption

import (
	"context"
	"time"

	"rewards-platform/pkg/config"
	"rewards-platform/pkg/task"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// RegisterTaskHandlers mounts the redemption background handlers on the asynq
// mux.
func RegisterTaskHandlers(mux *asynq.ServeMux, svc *Service) {
	mux.HandleFunc(TypeExpirePending, svc.HandleExpirePending)
}

// HandleExpirePending sweeps pending redemptions past their TTL. Rows are
// expired concurrently but each in its own transaction, so one stuck row does
// not block the rest of the sweep.
func (s *Service) HandleExpirePending(ctx context.Context, _ *asynq.Task) error {
	rows, err := s.ListExpiredPending(ctx, time.Now())
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, row := range rows {
		g.Go(func() error {
			if expErr := s.Expire(gctx, row.ID); expErr != nil {
				zap.L().Error("failed to expire redemption",
					zap.String("redemption_id", row.ID),
					zap.Error(expErr),
				)
				return expErr
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	zap.L().Info("expired pending redemptions", zap.Int("count", len(rows)))
	return nil
}

// scheduleExpirySweep enqueues the sweep task on a fixed interval for the
// lifetime of the app.
func scheduleExpirySweep(lc fx.Lifecycle, cfg *config.Config, enqueuer task.Enqueuer) {
	interval := cfg.Rewards.ExpirySweepInterval
	if interval <= 0 {
		interval = time.Hour
	}

	done := make(chan struct{})
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				ticker := time.NewTicker(interval)
				defer ticker.Stop()
				for {
					select {
					case <-done:
						return
					case <-ticker.C:
						if _, err := enqueuer.Enqueue(asynq.NewTask(TypeExpirePending, nil), asynq.Queue("low")); err != nil {
							zap.L().Error("failed to enqueue expiry sweep", zap.Error(err))
						}
					}
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			close(done)
			return nil
		},
	})
}
