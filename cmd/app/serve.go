package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/maloquacious/userbook/internal/gate"
	"github.com/maloquacious/userbook/internal/store"
	"github.com/spf13/cobra"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var (
		port      int
		adminPort int
		exitAfter time.Duration
	)

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the userbook JSON server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(cmd, opts)
			if err != nil {
				return err
			}
			defer rt.Close()

			if cmd.Flags().Changed("port") {
				rt.cfg.Server.Port = port
			}
			if cmd.Flags().Changed("admin-port") {
				rt.cfg.Server.AdminPort = adminPort
			}
			return runServe(cmd.Context(), rt, exitAfter)
		},
	}
	serveCmd.Flags().IntVar(&port, "port", 8080, "public HTTP port (JSON API)")
	serveCmd.Flags().IntVar(&adminPort, "admin-port", 8383, "admin HTTP port (JSON, loopback only)")
	serveCmd.Flags().DurationVar(&exitAfter, "exit-after", 0, "optional runtime; if set, server exits after this duration (testing)")
	return serveCmd
}

// runServe starts both the public and admin servers with graceful shutdown.
// Migrations run in the background; /ready and the API report 503 until the
// gate is Ready.
func runServe(parent context.Context, rt *appRuntime, exitAfter time.Duration) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt)
	defer stop()

	if err := rt.open(ctx); err != nil {
		return err
	}
	repo := rt.gate.Guard(rt.store.Users())

	go func() {
		st := rt.gate.Run(ctx)
		if st.Ready() && rt.cfg.Seed.OnStart {
			if err := repo.SeedDefaults(ctx); err != nil {
				rt.log.Error("seeding default users failed", "error", err)
			}
		}
	}()

	publicSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", rt.cfg.Server.Port),
		Handler: newPublicMux(rt.gate, repo, rt.log),
	}

	// Bind admin to 127.0.0.1 only (loopback enforcement)
	adminListener, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", rt.cfg.Server.AdminPort))
	if err != nil {
		return fmt.Errorf("admin listener bind failed (loopback only): %w", err)
	}
	adminSrv := &http.Server{
		Handler: newAdminMux(rt.gate, rt.store, stop),
	}

	errCh := make(chan error, 2)

	go func() {
		rt.log.Info("public server listening", "addr", publicSrv.Addr)
		if err := publicSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("public server error: %w", err)
		}
	}()

	go func() {
		rt.log.Info("admin server listening", "addr", adminListener.Addr().String())
		if err := adminSrv.Serve(adminListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("admin server error: %w", err)
		}
	}()

	// Optional run timer
	var timer <-chan time.Time
	if exitAfter > 0 {
		rt.log.Info("exit-after timer set", "after", exitAfter)
		timer = time.After(exitAfter)
	}

	var serveErr error
	select {
	case <-ctx.Done():
	case <-timer:
	case serveErr = <-errCh:
		rt.log.Error("server error", "error", serveErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), rt.cfg.Server.ShutdownTimeout)
	defer cancel()

	_ = publicSrv.Shutdown(shutdownCtx)
	_ = adminSrv.Shutdown(shutdownCtx)
	rt.log.Info("shutdown complete")
	return serveErr
}

type addUserRequest struct {
	Name  string `json:"name"`
	Age   string `json:"age"`
	Email string `json:"email"`
}

func newPublicMux(g *gate.Gate, repo store.UserRepository, log *slog.Logger) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /live", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	mux.HandleFunc("GET /ready", func(w http.ResponseWriter, r *http.Request) {
		st := g.Status()
		if !st.Ready() {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(strings.ToUpper(st.State.String())))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("READY"))
	})

	mux.Handle("GET /api/users", jsonOnly(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		users, err := repo.ListUsers(r.Context())
		if err != nil {
			writeStoreError(w, log, err)
			return
		}
		writeJSON(w, http.StatusOK, users)
	})))

	mux.Handle("POST /api/users", jsonOnly(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req addUserRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
			return
		}
		users, err := repo.AddUser(r.Context(), req.Name, req.Age, req.Email)
		if err != nil {
			writeStoreError(w, log, err)
			return
		}
		writeJSON(w, http.StatusCreated, users)
	})))

	return mux
}

type schemaVersioner interface {
	SchemaVersion(ctx context.Context) (int, error)
}

func newAdminMux(g *gate.Gate, sv schemaVersioner, shutdown func()) *http.ServeMux {
	mux := http.NewServeMux()

	mux.Handle("GET /admin/status", jsonOnly(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		st := g.Status()
		resp := map[string]any{
			"version":   version.String(),
			"buildDate": buildDate,
			"time":      time.Now().UTC().Format(time.RFC3339),
			"gate":      st.State.String(),
		}
		if st.Err != nil {
			resp["gateError"] = st.Err.Error()
		}
		if v, err := sv.SchemaVersion(r.Context()); err == nil {
			resp["schemaVersion"] = v
		}
		writeJSON(w, http.StatusOK, resp)
	})))

	mux.Handle("POST /admin/shutdown", jsonOnly(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "shutting down"})
		shutdown()
	})))

	return mux
}

// jsonOnly enforces JSON-only contract for API and admin routes.
func jsonOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		accept := r.Header.Get("Accept")
		if !strings.Contains(accept, "application/json") && !strings.Contains(accept, "*/*") && accept != "" {
			writeJSONError(w, http.StatusNotAcceptable, "not_acceptable", "Accept must include application/json")
			return
		}
		if r.Method != http.MethodGet && r.ContentLength != 0 && !strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
			writeJSONError(w, http.StatusUnsupportedMediaType, "unsupported_media_type", "Content-Type must be application/json")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// writeStoreError is the only place repository errors become HTTP text.
func writeStoreError(w http.ResponseWriter, log *slog.Logger, err error) {
	switch {
	case errors.Is(err, store.ErrValidation):
		writeJSONError(w, http.StatusBadRequest, "validation_failed", err.Error())
	case errors.Is(err, store.ErrDuplicateEmail):
		writeJSONError(w, http.StatusConflict, "duplicate_email", err.Error())
	case errors.Is(err, store.ErrNotReady):
		writeJSONError(w, http.StatusServiceUnavailable, "not_ready", err.Error())
	default:
		log.Error("request failed", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "store_error", "the user store could not complete the request")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, map[string]string{
		"error":   code,
		"message": msg,
	})
}
