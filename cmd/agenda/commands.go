package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mercocamp/agenda-bfa-go/internal/config"
	"github.com/mercocamp/agenda-bfa-go/internal/domain"
	"github.com/mercocamp/agenda-bfa-go/internal/infra/observability"
	"github.com/mercocamp/agenda-bfa-go/internal/nfe"
	"github.com/mercocamp/agenda-bfa-go/internal/session"
)

func newRootCmd() *cobra.Command {
	var envFile string

	root := &cobra.Command{
		Use:           "agenda",
		Short:         "Receiving-schedule dashboard backend",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the environment")

	load := func() (*config.Config, *zap.Logger, error) {
		cfg, err := config.Load(envFile)
		if err != nil {
			return nil, nil, err
		}
		logger, err := observability.NewLogger(cfg.LogLevel)
		if err != nil {
			return nil, nil, err
		}
		return cfg, logger, nil
	}

	root.AddCommand(
		newServeCmd(load),
		newParseCmd(),
		newLoginCmd(load),
		newLogoutCmd(load),
		newSchedulesCmd(load),
		newDashboardCmd(load),
	)
	return root
}

type loader func() (*config.Config, *zap.Logger, error)

// withApp runs fn against a wired app and tears it down afterwards.
func withApp(load loader, fn func(ctx context.Context, a *app) error) error {
	cfg, logger, err := load()
	if err != nil {
		return err
	}
	defer logger.Sync()

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return fn(ctx, a)
}

// --- serve ---

func newServeCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the local HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := load()
			if err != nil {
				return err
			}
			defer logger.Sync()

			logger.Info("configuration loaded",
				zap.Int("port", cfg.Port),
				zap.String("log_level", cfg.LogLevel),
				zap.String("api_base_url", cfg.APIBaseURL),
				zap.Duration("http_timeout", cfg.HTTPTimeout),
				zap.Int("max_retries", cfg.MaxRetries),
				zap.Duration("token_renewal_interval", cfg.TokenRenewalInterval),
				zap.String("data_dir", cfg.DataDir),
			)

			// --- Tracing ---
			shutdown, err := observability.InitTracer(cfg.OTLPEndpoint, "agenda-bfa")
			if err != nil {
				return fmt.Errorf("init tracer: %w", err)
			}
			defer shutdown(context.Background())

			a, err := newApp(cfg, logger)
			if err != nil {
				return err
			}
			defer a.close()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			srv := &http.Server{
				Addr:         cfg.Addr(),
				Handler:      a.router(),
				ReadTimeout:  10 * time.Second,
				WriteTimeout: 30 * time.Second,
				IdleTimeout:  60 * time.Second,
				BaseContext: func(net.Listener) context.Context {
					return ctx
				},
			}

			errCh := make(chan error, 1)
			go func() {
				logger.Info("server starting", zap.Int("port", cfg.Port))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case <-ctx.Done():
				logger.Info("server shutting down...")
			case err := <-errCh:
				if err != nil {
					return fmt.Errorf("server failed: %w", err)
				}
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("server forced shutdown: %w", err)
			}
			logger.Info("server stopped")
			return nil
		},
	}
}

// --- parse ---

func newParseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "parse <file.xml>",
		Short: "Print the data extracted from an NF-e XML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("opening %s: %w", args[0], err)
			}
			defer f.Close()

			extract, err := nfe.Parse(f)
			if err != nil {
				return fmt.Errorf("parsing %s: %w", args[0], err)
			}
			return printJSON(cmd.OutOrStdout(), extract)
		},
	}
}

// --- login / logout ---

func newLoginCmd(load loader) *cobra.Command {
	var (
		user     string
		password string
		remember bool
	)
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Authenticate and persist the credential",
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" {
				password = os.Getenv("AGENDA_PASSWORD")
			}
			return withApp(load, func(ctx context.Context, a *app) error {
				if user == "" {
					user = a.session.RememberedUser(ctx)
				}
				if _, err := a.session.Login(ctx, user, password, remember); err != nil {
					return err
				}
				u, _ := a.session.CurrentUser(ctx)
				fmt.Fprintf(cmd.OutOrStdout(), "%s (%s)\n", u.DisplayName(), u.LevelAccess.Name())
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&user, "user", "u", "", "username (defaults to the remembered one)")
	cmd.Flags().StringVarP(&password, "password", "p", "", "password (or AGENDA_PASSWORD)")
	cmd.Flags().BoolVar(&remember, "remember", false, "remember the username")
	return cmd
}

func newLogoutCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "End the session and wipe the stored credential",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(load, func(ctx context.Context, a *app) error {
				a.session.Logout(ctx)
				return nil
			})
		},
	}
}

// --- schedules ---

func newSchedulesCmd(load loader) *cobra.Command {
	var (
		filters domain.ScheduleFilters
		status  string
		page    int
	)
	cmd := &cobra.Command{
		Use:   "schedules",
		Short: "List schedules",
		RunE: func(cmd *cobra.Command, args []string) error {
			filters.Status = domain.Status(status)
			if status != "" && !filters.Status.Valid() {
				return fmt.Errorf("unknown status %q", status)
			}
			return withApp(load, func(ctx context.Context, a *app) error {
				if err := requireLogin(ctx, a, "schedules"); err != nil {
					return err
				}
				p, err := a.schedules.List(ctx, filters, page)
				if err != nil {
					return err
				}
				return printSchedules(cmd.OutOrStdout(), p)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by status")
	cmd.Flags().StringVar(&filters.Client, "client", "", "filter by client CNPJ")
	cmd.Flags().StringVar(&filters.DateFrom, "from", "", "delivery date from (YYYY-MM-DD)")
	cmd.Flags().StringVar(&filters.DateTo, "to", "", "delivery date to (YYYY-MM-DD)")
	cmd.Flags().StringVar(&filters.NfeNumber, "nfe", "", "filter by NF-e number")
	cmd.Flags().IntVar(&page, "page", 1, "page number")
	return cmd
}

// --- dashboard ---

func newDashboardCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "dashboard",
		Short: "Print the dashboard sections as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(load, func(ctx context.Context, a *app) error {
				if err := requireLogin(ctx, a, "dashboard"); err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), a.dashboard.Load(ctx))
			})
		},
	}
}

// requireLogin verifies the stored credential the same way a protected
// page load does, so an expired token fails before any data request.
func requireLogin(ctx context.Context, a *app, command string) error {
	if _, ok := a.session.CurrentUser(ctx); !ok {
		return errors.New("not logged in: run `agenda login` first")
	}
	if st := a.session.Guard().Check(ctx, command); st != session.StateAuthenticated {
		return errors.New("session expired: run `agenda login` again")
	}
	return nil
}

// --- output ---

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printSchedules(w io.Writer, p *domain.SchedulePage) error {
	if p.Empty() {
		_, err := fmt.Fprintln(w, "Nenhum agendamento encontrado.")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNF-E\tCLIENTE\tENTREGA\tSTATUS\tFORNECEDOR")
	for _, s := range p.Schedules {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n", s.ID, s.Number, nfe.FormatCNPJ(s.Client), s.Date, s.Status, s.Supplier)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "página %d de %d (%d agendamentos)\n", p.Pagination.Page, p.Pagination.Pages, p.Pagination.Total)
	return err
}
