// Command bootstrap is the guild-access binary. The name matches what the
// Lambda provided.al2023 runtime executes.
//
// Subcommands:
//
//	serve      HTTP server with graceful shutdown
//	lambda     API Gateway HTTP API handler
//	migrate    apply pending PostgreSQL migrations and exit
//	sync-role  recompute one user's cross-guild role hint
//	grant      assign a guild role as the given actor
//	revoke     revoke a guild role as the given actor
//	profile    create or update a user profile
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awslambda "github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-xray-sdk-go/xray"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	adapterlogger "guild-access/internal/adapters/logger"
	"guild-access/internal/application"
	"guild-access/internal/config"
	"guild-access/internal/domain"
	"guild-access/internal/infrastructure/postgres"
	lambdaplatform "guild-access/internal/platform/lambda"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(exitCode(err))
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "guild-access",
		Short:         "Guild role resolution and access management",
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			// the Lambda runtime starts the binary without arguments
			if os.Getenv("AWS_LAMBDA_FUNCTION_NAME") != "" {
				return runLambda(cmd, args)
			}
			return cmd.Help()
		},
	}
	root.AddCommand(
		serveCmd(),
		lambdaCmd(),
		migrateCmd(),
		syncRoleCmd(),
		grantCmd(),
		revokeCmd(),
		profileCmd(),
	)
	return root
}

// setup loads configuration and the logger shared by every subcommand.
func setup() (*config.Config, *adapterlogger.SlogLogger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("config: %w", err)
	}
	logger, err := adapterlogger.New(cfg.LogLevel)
	if err != nil {
		return nil, nil, fmt.Errorf("logger: %w", err)
	}
	if !cfg.XRayEnabled {
		_ = os.Setenv("AWS_XRAY_SDK_DISABLED", "true")
	}
	if err := xray.Configure(xray.Config{LogLevel: "error"}); err != nil {
		return nil, nil, fmt.Errorf("xray: %w", err)
	}
	return cfg, logger, nil
}

func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	ctx, seg := xray.BeginSegment(cmd.Context(), "guild-access-cli")
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		seg.Close(err)
		return err
	}
	defer a.Close()
	err = fn(ctx, a)
	seg.Close(err)
	return err
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	e, err := a.router(true)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           e,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	serverErr := make(chan error, 1)
	go func() {
		logger.Info(ctx, "starting http server", "addr", cfg.Addr(), "store_backend", cfg.StoreBackend, "auth_mode", cfg.AuthMode)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		stop()
	}

	logger.Info(context.Background(), "shutting down", "timeout", cfg.ShutdownTimeout.String())
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	logger.Info(context.Background(), "server stopped")
	return nil
}

func lambdaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "lambda",
		Short: "Serve API Gateway HTTP API events",
		RunE:  runLambda,
	}
}

func runLambda(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	a, err := newApp(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	e, err := a.router(false)
	if err != nil {
		return err
	}
	awslambda.Start(lambdaplatform.NewLambdaHandler(e, logger))
	return nil
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending PostgreSQL migrations and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			if cfg.StoreBackend != config.BackendPostgres {
				return fmt.Errorf("migrate requires STORE_BACKEND=%s, got %q", config.BackendPostgres, cfg.StoreBackend)
			}
			version, err := postgres.Migrate(cfg.DatabaseURL)
			if err != nil {
				return err
			}
			logger.Info(cmd.Context(), "migrations applied", "version", version)
			return nil
		},
	}
}

func syncRoleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync-role <user-id>",
		Short: "Recompute and write a user's cross-guild role hint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := canonicalID("user-id", args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *app) error {
				role, err := a.sync.Project(ctx, userID)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), map[string]any{"user_id": userID, "app_role": role})
			})
		},
	}
}

func grantCmd() *cobra.Command {
	var actor, guild, user, email, role, source string
	cmd := &cobra.Command{
		Use:   "grant",
		Short: "Assign a guild role to a user",
		RunE: func(cmd *cobra.Command, _ []string) error {
			r, err := domain.ParseGuildRole(role)
			if err != nil {
				return err
			}
			if err := canonicalIDs(map[string]*string{"as": &actor, "guild": &guild, "user": &user}); err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *app) error {
				res, err := a.access.Assign(ctx, actor, guild, application.AssignInput{
					UserID: user,
					Email:  email,
					Role:   r,
					Source: domain.AssignmentSource(source),
				})
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), map[string]any{"created": res.Created, "assignment": res.Assignment})
			})
		},
	}
	cmd.Flags().StringVar(&actor, "as", "", "acting user id (must be guild_admin or super_admin)")
	cmd.Flags().StringVar(&guild, "guild", "", "guild id")
	cmd.Flags().StringVar(&user, "user", "", "target user id")
	cmd.Flags().StringVar(&email, "email", "", "target user email, instead of --user")
	cmd.Flags().StringVar(&role, "role", "", "guild_admin, officer, raider, member or viewer")
	cmd.Flags().StringVar(&source, "source", string(domain.SourceManual), "invite, manual, seed or system")
	cmd.MarkFlagsMutuallyExclusive("user", "email")
	_ = cmd.MarkFlagRequired("as")
	_ = cmd.MarkFlagRequired("guild")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

func revokeCmd() *cobra.Command {
	var actor, guild, user string
	cmd := &cobra.Command{
		Use:   "revoke",
		Short: "Revoke a user's guild role",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := canonicalIDs(map[string]*string{"as": &actor, "guild": &guild, "user": &user}); err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *app) error {
				if err := a.access.Revoke(ctx, actor, guild, user); err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), map[string]any{"revoked": true, "guild_id": guild, "user_id": user})
			})
		},
	}
	cmd.Flags().StringVar(&actor, "as", "", "acting user id (must be guild_admin or super_admin)")
	cmd.Flags().StringVar(&guild, "guild", "", "guild id")
	cmd.Flags().StringVar(&user, "user", "", "target user id")
	_ = cmd.MarkFlagRequired("as")
	_ = cmd.MarkFlagRequired("guild")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func profileCmd() *cobra.Command {
	var p domain.UserProfile
	var superAdmin bool
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Create or update a user profile",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if superAdmin {
				p.AppRole = domain.RoleSuperAdmin
			}
			if err := canonicalIDs(map[string]*string{"id": &p.ID}); err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *app) error {
				if err := a.repos.saveProfile(ctx, p); err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), p)
			})
		},
	}
	cmd.Flags().StringVar(&p.ID, "id", "", "user id")
	cmd.Flags().StringVar(&p.Email, "email", "", "email address")
	cmd.Flags().StringVar(&p.DisplayName, "display-name", "", "display name")
	cmd.Flags().BoolVar(&superAdmin, "super-admin", false, "grant the global super_admin role")
	_ = cmd.MarkFlagRequired("id")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

// canonicalID returns the lower-case form of a uuid flag or argument.
func canonicalID(name, v string) (string, error) {
	id, err := uuid.Parse(v)
	if err != nil {
		return "", fmt.Errorf("%w: %s must be a uuid", domain.ErrInvalidInput, name)
	}
	return id.String(), nil
}

// canonicalIDs rewrites every non-empty flag in place.
func canonicalIDs(flags map[string]*string) error {
	for name, v := range flags {
		if *v == "" {
			continue
		}
		id, err := canonicalID(name, *v)
		if err != nil {
			return err
		}
		*v = id
	}
	return nil
}

// exitCode is 2 for rejected requests and 1 for everything else.
func exitCode(err error) int {
	if application.IsClientError(err) {
		return 2
	}
	return 1
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
