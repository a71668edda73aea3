package testfixtures

import (
	"log/slog"
	"time"

	"github.com/example/fablab-backend/internal/application"
	"github.com/example/fablab-backend/internal/persistence"
)

// ServiceFactory assists tests with constructing application services over a
// shared store, clock and card cache.
type ServiceFactory struct {
	Clock  *Clock
	Cards  *application.CardCache
	Logger *slog.Logger
}

// ServiceFactoryOption configures a ServiceFactory instance.
type ServiceFactoryOption func(*ServiceFactory)

// NewServiceFactory constructs a ServiceFactory with defaults.
func NewServiceFactory(opts ...ServiceFactoryOption) *ServiceFactory {
	factory := &ServiceFactory{
		Clock: NewClock(time.Time{}),
		Cards: application.NewCardCache(64, time.Minute),
	}
	for _, opt := range opts {
		opt(factory)
	}
	if factory.Clock == nil {
		factory.Clock = NewClock(time.Time{})
	}
	return factory
}

// WithClock overrides the clock used by the factory.
func WithClock(clock *Clock) ServiceFactoryOption {
	return func(factory *ServiceFactory) {
		factory.Clock = clock
	}
}

// WithoutCardCache makes every card lookup go to the store.
func WithoutCardCache() ServiceFactoryOption {
	return func(factory *ServiceFactory) {
		factory.Cards = nil
	}
}

// WithLogger routes service logs to logger.
func WithLogger(logger *slog.Logger) ServiceFactoryOption {
	return func(factory *ServiceFactory) {
		factory.Logger = logger
	}
}

// Services bundles every application service built over one store.
type Services struct {
	Catalog       *application.CatalogService
	Users         *application.UserService
	Machines      *application.MachineService
	Interventions *application.InterventionService
	Sessions      *application.UsageSessionManager
	Authorization *application.AuthorizationEngine
}

// Build wires all services to store.
func (f *ServiceFactory) Build(store persistence.Store) Services {
	now := f.Clock.NowFunc()
	return Services{
		Catalog:       application.NewCatalogServiceWithLogger(store, f.Logger),
		Users:         application.NewUserServiceWithLogger(store, f.Cards, f.Logger),
		Machines:      application.NewMachineServiceWithLogger(store, f.Logger),
		Interventions: application.NewInterventionServiceWithLogger(store, now, f.Logger),
		Sessions:      application.NewUsageSessionManagerWithLogger(store, f.Cards, now, f.Logger),
		Authorization: application.NewAuthorizationEngineWithLogger(store, f.Cards, f.Logger),
	}
}
