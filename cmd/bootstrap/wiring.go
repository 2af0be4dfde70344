package main

import (
	"context"
	"fmt"

	"github.com/labstack/echo/v4"

	adaptermiddleware "guild-access/internal/adapters/http/middleware"
	adapterlogger "guild-access/internal/adapters/logger"
	"guild-access/internal/application"
	"guild-access/internal/config"
	"guild-access/internal/domain"
	"guild-access/internal/infrastructure/auth"
	"guild-access/internal/infrastructure/cognito"
	"guild-access/internal/infrastructure/dynamodb"
	"guild-access/internal/infrastructure/memory"
	"guild-access/internal/infrastructure/postgres"
	httpiface "guild-access/internal/interfaces/http"
	"guild-access/internal/ports"
)

type repositories struct {
	profiles    ports.ProfileRepository
	roles       ports.GuildRoleRepository
	audit       ports.AuditRepository
	saveProfile func(ctx context.Context, p domain.UserProfile) error
	close       func()
}

type app struct {
	cfg    *config.Config
	logger *adapterlogger.SlogLogger
	repos  repositories
	authz  *application.Authorizer
	access *application.AccessService
	sync   *application.RoleSynchronizer
}

func newApp(ctx context.Context, cfg *config.Config, logger *adapterlogger.SlogLogger) (*app, error) {
	repos, err := newRepositories(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	identity, err := newIdentityProvider(ctx, cfg, logger)
	if err != nil {
		repos.close()
		return nil, err
	}

	store := application.NewRoleStore(repos.profiles, repos.roles, logger)
	authz := application.NewAuthorizer(store, logger)
	sync := application.NewRoleSynchronizer(store, repos.profiles, identity, domain.StandardPriorities(), logger)
	return &app{
		cfg:    cfg,
		logger: logger,
		repos:  repos,
		authz:  authz,
		access: application.NewAccessService(authz, store, repos.profiles, repos.audit, sync, logger),
		sync:   sync,
	}, nil
}

func (a *app) Close() { a.repos.close() }

func newRepositories(ctx context.Context, cfg *config.Config, logger ports.Logger) (repositories, error) {
	switch cfg.StoreBackend {
	case config.BackendPostgres:
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns)
		if err != nil {
			return repositories{}, err
		}
		st := postgres.New(pool)
		return repositories{
			profiles:    st,
			roles:       st,
			audit:       st,
			saveProfile: st.UpsertProfile,
			close: func() {
				_ = st.Close()
				pool.Close()
			},
		}, nil
	case config.BackendDynamoDB:
		client, err := dynamodb.NewClient(ctx, cfg.AWSRegion, cfg.TableName)
		if err != nil {
			return repositories{}, fmt.Errorf("dynamodb client: %w", err)
		}
		profiles := dynamodb.NewProfileRepository(client)
		return repositories{
			profiles:    profiles,
			roles:       dynamodb.NewGuildRoleRepository(client),
			audit:       dynamodb.NewAuditRepository(client),
			saveProfile: profiles.Upsert,
			close:       func() {},
		}, nil
	case config.BackendMemory:
		st := memory.NewStore()
		if cfg.BootstrapSuperAdminID != "" {
			st.PutProfile(domain.UserProfile{ID: cfg.BootstrapSuperAdminID, AppRole: domain.RoleSuperAdmin})
			logger.Info(ctx, "seeded super admin profile", "user_id", cfg.BootstrapSuperAdminID)
		}
		return repositories{
			profiles: st,
			roles:    st,
			audit:    st,
			saveProfile: func(_ context.Context, p domain.UserProfile) error {
				st.PutProfile(p)
				return nil
			},
			close: func() {},
		}, nil
	default:
		return repositories{}, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}

func newIdentityProvider(ctx context.Context, cfg *config.Config, logger ports.Logger) (ports.IdentityProvider, error) {
	if cfg.IdentityProvider != config.IdentityCognito {
		return cognito.NewLogOnly(logger), nil
	}
	idp, err := cognito.New(ctx, cfg.AWSRegion, cfg.CognitoUserPoolID)
	if err != nil {
		return nil, fmt.Errorf("cognito client: %w", err)
	}
	return idp, nil
}

// router builds the HTTP surface. withXRay is off under Lambda, where the
// runtime already provides the segment.
func (a *app) router(withXRay bool) (*echo.Echo, error) {
	mode, err := adaptermiddleware.ParseAuthMode(a.cfg.AuthMode)
	if err != nil {
		return nil, err
	}
	var jwtHandler, cognitoHandler echo.MiddlewareFunc
	switch mode {
	case adaptermiddleware.ModeJWT:
		jwtHandler = auth.NewJWTMiddleware(a.cfg.JWTSecret, a.cfg.JWTCookieName).Handler
	case adaptermiddleware.ModeCognito:
		cognitoHandler = auth.NewCognitoMiddleware(a.cfg.CognitoUserPoolID, a.cfg.AWSRegion, a.cfg.JWTCookieName).Handler
	}
	authMiddleware, err := adaptermiddleware.AuthMiddleware(mode, jwtHandler, cognitoHandler)
	if err != nil {
		return nil, err
	}
	mw := httpiface.Middleware{
		Auth:          authMiddleware,
		RequestLogger: adaptermiddleware.RequestLogger(a.logger),
	}
	if withXRay && a.cfg.XRayEnabled {
		mw.XRay = adaptermiddleware.XRayMiddleware("guild-access-http")
	}
	return httpiface.NewRouter(httpiface.NewAccessHandler(a.access), a.authz, mw, a.logger), nil
}
