package srv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sandevgo/capassist/pkg/log"
)

// Service is a background component with an explicit lifecycle. Start may
// block until ctx is cancelled.
type Service interface {
	Start(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

// StartServices launches every service in its own goroutine. A start failure
// is fatal.
func StartServices(ctx context.Context, services []Service) {
	logger := log.FromCtx(ctx)
	for _, service := range services {
		go func(service Service) {
			if err := service.Start(ctx); err != nil {
				logger.Fatal().Err(err).Msgf("%T failed to start", service)
			}
		}(service)
	}
}

// ShutdownServices waits for ctx to end, then shuts services down in reverse
// start order within the grace period.
func ShutdownServices(ctx context.Context, services []Service, grace time.Duration) error {
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), grace)
	defer cancel()

	return StopServices(shutdownCtx, services)
}

// StopServices shuts services down in reverse order and joins their errors.
func StopServices(ctx context.Context, services []Service) error {
	var errs []error
	for i := len(services) - 1; i >= 0; i-- {
		service := services[i]
		if err := service.Shutdown(ctx); err != nil {
			log.FromCtx(ctx).Error().Err(err).Msgf("%T failed to shutdown", service)
			errs = append(errs, fmt.Errorf("%T: %w", service, err))
		}
	}
	return errors.Join(errs...)
}
