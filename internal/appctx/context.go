// Package appctx provides application context helpers.
package appctx

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/graphctl/graphctl/internal/api"
	"github.com/graphctl/graphctl/internal/auth"
	"github.com/graphctl/graphctl/internal/config"
	"github.com/graphctl/graphctl/internal/connection"
	"github.com/graphctl/graphctl/internal/observability"
	"github.com/graphctl/graphctl/internal/output"
)

// contextKey is a private type for context keys.
type contextKey string

const appKey contextKey = "app"

// App holds the shared application context for all commands.
type App struct {
	Config *config.Config
	Deps   *auth.Deps
	Conn   *connection.Manager
	Exec   *api.Executor
	Output *output.Writer

	// Observability
	Collector *observability.SessionCollector
	Hooks     *observability.Hooks

	// Flags holds the global flag values
	Flags GlobalFlags
}

// GlobalFlags holds values for global CLI flags.
type GlobalFlags struct {
	// Identity flags
	Authority string
	Tenant    string
	ClientID  string
	Scopes    string

	// Target API flags
	BaseURL    string
	APIVersion string

	// Output flags
	Output string // json, yaml, quiet
	JQ     string

	// Behavior flags
	Verbose int // 0=off, 1=operations, 2=operations+requests (stacks with -v -v or -vv)
	Stats   bool
}

// NewApp creates a new App with the given configuration.
func NewApp(cfg *config.Config) *App {
	// Collector always runs to gather stats; hooks control trace verbosity.
	// Level 0 initially; ApplyFlags sets the actual level from -v flags.
	collector := observability.NewSessionCollector()
	traceWriter := observability.NewTraceWriter()
	hooks := observability.NewHooks(0, collector, traceWriter)

	httpClient := &http.Client{Timeout: 30 * time.Second}
	deps := auth.NewDeps(httpClient, hooks)
	conn := connection.NewManager(deps, hooks)
	exec := api.NewExecutor(conn, cfg.BaseURL, cfg.APIVersion, hooks)

	return &App{
		Config:    cfg,
		Deps:      deps,
		Conn:      conn,
		Exec:      exec,
		Collector: collector,
		Hooks:     hooks,
		Output: output.New(output.Options{
			Format: output.ParseFormat(cfg.Format),
			Writer: os.Stdout,
		}),
	}
}

// ApplyFlags applies global flag values to the app configuration.
func (a *App) ApplyFlags() {
	if a.Flags.Output != "" {
		a.Output = output.New(output.Options{
			Format: output.ParseFormat(a.Flags.Output),
			Writer: os.Stdout,
		})
	}

	// Determine verbosity level from flags and GRAPHCTL_DEBUG env var
	verboseLevel := a.Flags.Verbose
	if debugEnv := os.Getenv("GRAPHCTL_DEBUG"); debugEnv != "" {
		// GRAPHCTL_DEBUG can be "1", "2", or "true" (treated as 2)
		if level, err := strconv.Atoi(debugEnv); err == nil {
			if level > verboseLevel {
				verboseLevel = level
			}
		} else if debugEnv == "true" {
			verboseLevel = observability.LevelRequests
		}
	}

	a.Hooks.SetLevel(verboseLevel)
}

// OK outputs a success response, honoring --jq and --stats.
func (a *App) OK(data any, opts ...output.ResponseOption) error {
	if a.Flags.JQ != "" {
		filtered, err := output.ApplyFilter(a.Flags.JQ, data)
		if err != nil {
			return err
		}
		data = filtered
	}
	if err := a.Output.OK(data, opts...); err != nil {
		return err
	}
	a.printStats()
	return nil
}

// Err outputs an error response, printing stats to stderr if enabled.
func (a *App) Err(err error) error {
	if outputErr := a.Output.Err(err); outputErr != nil {
		return outputErr
	}
	a.printStats()
	return nil
}

// printStats outputs a compact session summary line to stderr.
func (a *App) printStats() {
	if !a.Flags.Stats || a.Collector == nil {
		return
	}
	stats := a.Collector.Snapshot()

	var parts []string

	duration := stats.EndTime.Sub(stats.StartTime)
	if duration < time.Second {
		parts = append(parts, fmt.Sprintf("%dms", duration.Milliseconds()))
	} else {
		parts = append(parts, fmt.Sprintf("%.1fs", duration.Seconds()))
	}

	if stats.TotalRequests == 1 {
		parts = append(parts, "1 request")
	} else if stats.TotalRequests > 1 {
		parts = append(parts, fmt.Sprintf("%d requests", stats.TotalRequests))
	}
	if stats.TotalPages > 1 {
		parts = append(parts, fmt.Sprintf("%d pages", stats.TotalPages))
	}
	if stats.Throttles > 0 {
		parts = append(parts, fmt.Sprintf("%d throttled (%.0fs slept)", stats.Throttles, stats.ThrottledSleep.Seconds()))
	}
	if stats.TokenRequests > 0 {
		parts = append(parts, fmt.Sprintf("%d token request(s)", stats.TokenRequests))
	}
	if stats.Refreshes > 0 {
		parts = append(parts, fmt.Sprintf("%d refreshed", stats.Refreshes))
	}
	if stats.FailedRequests > 0 {
		parts = append(parts, fmt.Sprintf("%d failed", stats.FailedRequests))
	}

	fmt.Fprintf(os.Stderr, "\nStats: %s\n", strings.Join(parts, " | "))
}

// WithApp stores the app in the context.
func WithApp(ctx context.Context, app *App) context.Context {
	return context.WithValue(ctx, appKey, app)
}

// FromContext retrieves the app from the context.
func FromContext(ctx context.Context) *App {
	app, _ := ctx.Value(appKey).(*App)
	return app
}
