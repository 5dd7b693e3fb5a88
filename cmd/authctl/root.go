package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/auth"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/config"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/credential"
	credentialrepo "github.com/ovaphlow/pitchfork/service-auth-go/internal/credential/repo"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/session"
	sessionrepo "github.com/ovaphlow/pitchfork/service-auth-go/internal/session/repo"
	"github.com/ovaphlow/pitchfork/service-auth-go/pkg/database"
	"github.com/ovaphlow/pitchfork/service-auth-go/pkg/utilities"
)

// backend opens the auth service; the returned func releases it.
type backend func(ctx context.Context) (*auth.Service, *zap.SugaredLogger, func(), error)

// defaultBackend wires the service from the same environment as the API.
func defaultBackend(ctx context.Context) (*auth.Service, *zap.SugaredLogger, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("config: %w", err)
	}
	lg, err := utilities.Init(cfg.Log)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("logger: %w", err)
	}
	sugar := lg.Sugar()

	db, err := database.Connect(cfg.Database)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("db connect: %w", err)
	}
	release := func() {
		_ = db.Close()
		_ = lg.Sync()
	}

	creds := credentialrepo.NewCredentialRepo(db)
	sessions := sessionrepo.NewSessionRepo(db)
	if err := errors.Join(creds.EnsureTable(ctx), sessions.EnsureTable(ctx)); err != nil {
		release()
		return nil, nil, nil, fmt.Errorf("ensure tables: %w", err)
	}
	tokens, err := session.NewTokenService(cfg.AccessSecret, cfg.RefreshSecret,
		session.WithTTLs(cfg.AccessTTL, cfg.RefreshTTL), session.WithIssuer(cfg.Issuer))
	if err != nil {
		release()
		return nil, nil, nil, err
	}
	// the CLI never hashes user passwords, so the cheapest cost is enough for the dummy hash
	svc, err := auth.NewService(creds, sessions, credential.BcryptHasher{Cost: bcrypt.MinCost}, tokens, sugar,
		auth.WithLockoutPolicy(cfg.MaxFailedAttempts, cfg.LockDuration))
	if err != nil {
		release()
		return nil, nil, nil, err
	}
	return svc, sugar, release, nil
}

// NewRootCmd creates the root command for authctl.
func NewRootCmd(open backend) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "authctl",
		Short:         "Maintenance commands for the auth service",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	cmd.AddCommand(newSweepCmd(open))
	cmd.AddCommand(newUnlockCmd(open))
	cmd.AddCommand(newRevokeCmd(open))
	return cmd
}

// withService opens the backend for the duration of fn and logs internal failures.
func withService(cmd *cobra.Command, open backend, fn func(context.Context, *auth.Service) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	svc, logger, release, err := open(ctx)
	if err != nil {
		return err
	}
	defer release()
	if err := fn(ctx, svc); err != nil {
		if auth.KindOf(err) == auth.KindInternal {
			utilities.LogError(logger, cmd.Name()+" failed", err)
		}
		return err
	}
	return nil
}
