package cli

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/dmitrijs2005/classdesk/internal/client/client"
	"github.com/dmitrijs2005/classdesk/internal/client/config"
	"github.com/dmitrijs2005/classdesk/internal/client/credstore"
	"github.com/dmitrijs2005/classdesk/internal/client/guard"
	"github.com/dmitrijs2005/classdesk/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/classdesk/internal/client/services"
	"github.com/dmitrijs2005/classdesk/internal/common"
	"github.com/dmitrijs2005/classdesk/internal/logging"
	"github.com/dmitrijs2005/classdesk/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

// App is the interactive terminal client.
type App struct {
	config   *config.Config
	log      logging.Logger
	db       *sql.DB
	store    *credstore.Store
	pipeline *client.Pipeline
	gateway  *client.AuthClient
	session  *services.SessionManager
	recovery *services.RecoveryService
	router   *guard.Router

	metricsSrv *http.Server

	reader *bufio.Reader
	out    io.Writer
}

// NewApp opens the credential database and wires the client together:
// pipeline, auth gateway, session manager and router.
func NewApp(ctx context.Context, c *config.Config, log logging.Logger) (*App, error) {
	db, err := client.InitDatabase(ctx, c.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("init credential database: %w", err)
	}

	app, err := newApp(c, log, metadata.NewSQLiteRepository(db), os.Stdin, os.Stdout)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	app.db = db
	return app, nil
}

func newApp(c *config.Config, log logging.Logger, repo metadata.Repository, in io.Reader, out io.Writer) (*App, error) {
	reg := prometheus.NewRegistry()
	recorder := metrics.NewCollector(reg)

	store := credstore.New(repo, log)
	pipeline, err := client.NewPipeline(c.ServerURL, store,
		client.WithLogger(log),
		client.WithMetrics(recorder),
		client.WithTimeout(c.RequestTimeout),
		client.WithRateLimit(c.RateLimit, c.RateBurst),
	)
	if err != nil {
		return nil, err
	}

	gateway := client.NewAuthClient(pipeline, log)
	session := services.NewSessionManager(gateway, store, log, services.WithSessionMetrics(recorder))
	router := guard.NewRouter(store, session, log)

	pipeline.SetNavigator(router)
	pipeline.OnUnauthorized(session.ForceLogout)

	a := &App{
		config:   c,
		log:      log,
		store:    store,
		pipeline: pipeline,
		gateway:  gateway,
		session:  session,
		recovery: services.NewRecoveryService(gateway, log),
		router:   router,
		reader:   bufio.NewReader(in),
		out:      out,
	}
	router.OnChange(a.announce)

	if c.MetricsAddr != "" {
		a.metricsSrv = &http.Server{
			Addr:              c.MetricsAddr,
			Handler:           metrics.Handler(reg),
			ReadHeaderTimeout: 5 * time.Second,
		}
	}
	return a, nil
}

// Run restores the previous session, opens the first view and serves the
// REPL until the user leaves or input ends.
func (a *App) Run(ctx context.Context) {
	defer a.Close(ctx)

	if a.metricsSrv != nil {
		go func() {
			if err := a.metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.log.Error(ctx, "metrics listener stopped", "addr", a.metricsSrv.Addr, "error", err)
			}
		}()
	}

	fmt.Fprintln(a.out, "Welcome to classdesk (type 'help' for commands)")
	a.session.Bootstrap(ctx)
	if a.isLoggedIn() {
		_ = a.Open(ctx, common.LandingPath)
	} else {
		_ = a.Open(ctx, common.LoginPath)
	}

	runREPL(ctx, a, a.getStatus, a.reader)
}

// Close releases the database and the metrics listener.
func (a *App) Close(ctx context.Context) {
	if a.metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 3*time.Second)
		defer cancel()
		_ = a.metricsSrv.Shutdown(shutdownCtx)
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.Warn(ctx, "closing credential database", "error", err)
		}
	}
}

func (a *App) isLoggedIn() bool {
	return a.session.Snapshot().Authenticated
}

func (a *App) getStatus() string {
	s := ""
	if u := a.session.CurrentUser(); u != nil {
		s = fmt.Sprintf("(%s %s) ", u.Username, u.Role)
	}
	return s + a.router.Current()
}

// announce reports guard redirects and forced sign-outs to the user.
func (a *App) announce(d guard.Decision) {
	if client.IsLoginView(d.Location) {
		if msg := a.session.Snapshot().LastError; msg != "" {
			fmt.Fprintln(a.out, msg)
			a.session.ClearError()
		} else if !d.Allowed {
			fmt.Fprintln(a.out, "Please sign in to continue.")
		}
		return
	}
	if !d.Allowed {
		fmt.Fprintf(a.out, "Access denied (%s), showing %s instead.\n", d.Reason, d.Location)
	}
}
