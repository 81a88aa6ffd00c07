package main

import (
	"context"
	"log/slog"
	"os"

	"mound/config"
	"mound/internal/delivery"
	"mound/internal/delivery/http"
	"mound/internal/delivery/http/middleware"
	"mound/internal/delivery/http/router/handler"
	"mound/internal/infra/auth"
	"mound/internal/infra/auth/apple"
	"mound/internal/infra/auth/google"
	logs "mound/internal/infra/log"
	"mound/internal/infra/persistence/postgres"
	"mound/internal/infra/pubsub"
	"mound/internal/usecase/impl"

	"go.uber.org/fx"
)

type startServerParams struct {
	fx.In
	fx.Lifecycle
	fx.Shutdowner

	Deliveries []delivery.Delivery `group:"deliveries"`
}

func main() {
	fx.New(
		injectInfra(),
		injectRepo(),
		injectService(),
		injectUsecase(),
		injectDelivery(),
		injectMiddleware(),
		injectHandler(),
		fx.Invoke(
			startServer,
		),
	).Run()
}

func injectInfra() fx.Option {
	return fx.Options(
		fx.Provide(
			config.New,
			logs.New,
			context.Background,
			postgres.New,
		),
		pubsub.Module,
	)
}

func injectRepo() fx.Option {
	return fx.Options(
		fx.Provide(
			postgres.NewUserRepository,
			postgres.NewRefreshTokenRepository,
			postgres.NewTransactionManager,
		),
	)
}

func injectService() fx.Option {
	return fx.Options(
		fx.Provide(
			auth.NewBcryptHasher,
			auth.NewJWTService,
			fx.Annotate(
				google.NewVerifier,
				fx.ResultTags(`group:"token_verifiers"`),
			),
			fx.Annotate(
				apple.NewVerifier,
				fx.ResultTags(`group:"token_verifiers"`),
			),
		),
	)
}

func injectUsecase() fx.Option {
	return fx.Options(
		fx.Provide(
			fx.Annotate(
				impl.NewIdentityService,
				fx.ParamTags("", "", "", `group:"token_verifiers"`, "", ""),
			),
		),
	)
}

func injectMiddleware() fx.Option {
	return fx.Options(
		fx.Provide(
			middleware.NewAuthMiddleware,
		),
	)
}

func injectHandler() fx.Option {
	return fx.Options(
		fx.Provide(
			handler.NewAuthHandler,
			handler.NewUserHandler,
		),
	)
}

func injectDelivery() fx.Option {
	return fx.Options(
		fx.Provide(
			fx.Annotate(
				http.NewServer,
				fx.ResultTags(`group:"deliveries"`),
			),
		),
	)
}

func startServer(ctx context.Context, params startServerParams) {
	for _, delivery := range params.Deliveries {
		go func() {
			if err := delivery.Serve(ctx); err != nil {
				slog.Error("Failed to start server", slog.Any("error", err))

				// Trigger graceful shutdown to execute all OnStop hooks
				if shutdownErr := params.Shutdown(); shutdownErr != nil {
					slog.Error("Failed to shutdown gracefully", slog.Any("error", shutdownErr))
					os.Exit(1)
				}
			}
		}()
	}
}
