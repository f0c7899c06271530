package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"rewards-platform/pkg/config"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(ProvideMux, NewHTTPServer),
	fx.Invoke(Run),
)

// ProvideMux returns the default HTTP handler for the service. The core is a
// library-level contract; the only surface exposed here is liveness.
func ProvideMux(cfg *config.Config) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{
			"status":  "ok",
			"service": cfg.AppName,
			"version": cfg.AppVersion,
		})
	})
	return mux
}

type Params struct {
	fx.In
	Config  *config.Config
	Handler *http.ServeMux
}

func NewHTTPServer(p Params) *http.Server {
	cfg := p.Config
	return &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Server.Addr),
		Handler:      p.Handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
}

func Run(lc fx.Lifecycle, srv *http.Server) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			zap.L().Info("Starting HTTP server", zap.String("addr", srv.Addr))
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					zap.L().Error("HTTP server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			zap.L().Info("Shutting down HTTP server gracefully...")
			return srv.Shutdown(ctx)
		},
	})
}
