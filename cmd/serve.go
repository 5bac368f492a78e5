package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/royale/internal/api"
	"github.com/joescharf/royale/internal/daemon"
	"github.com/joescharf/royale/internal/scheduler"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and background sync scheduler",
	Long: `Serve the royale HTTP API and sync every tracked repository on an interval.

'royale serve' runs in the foreground. Use 'serve start' to run it in the
background, 'serve stop' to stop it and 'serve status' to check on it.
On Unix, SIGUSR1 makes a running server sync every repository right away.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveRun(cmd.Context())
	},
}

var serveRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the server in the foreground",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveRun(cmd.Context())
	},
}

var serveStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the server in the background",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveStartRun()
	},
}

var serveStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the background server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveStopRun()
	},
}

var serveStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether the background server is running",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveStatusRun()
	},
}

func init() {
	serveCmd.PersistentFlags().IntP("port", "p", 8080, "port to listen on")
	_ = viper.BindPFlag("port", serveCmd.PersistentFlags().Lookup("port"))

	serveCmd.AddCommand(serveRunCmd)
	serveCmd.AddCommand(serveStartCmd)
	serveCmd.AddCommand(serveStopCmd)
	serveCmd.AddCommand(serveStatusCmd)
	rootCmd.AddCommand(serveCmd)
}

func pidFile() *daemon.PIDFile {
	return daemon.NewPIDFile(filepath.Join(viper.GetString("state_dir"), "royale-serve.pid"))
}

func serveLogPath() string {
	return filepath.Join(viper.GetString("state_dir"), "royale-serve.log")
}

func serveRun(ctx context.Context) error {
	pf := pidFile()
	if st, err := pf.Running(); err == nil && st.PID != os.Getpid() {
		return fmt.Errorf("server already running (pid %d)", st.PID)
	}

	s, err := getStore()
	if err != nil {
		return err
	}
	log, err := getLogger()
	if err != nil {
		return err
	}
	orch, err := newOrchestrator()
	if err != nil {
		return err
	}
	job, err := newRecalcJob()
	if err != nil {
		return err
	}

	cfg := schedulerConfig()
	addr := fmt.Sprintf(":%d", viper.GetInt("port"))
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.NewServer(s, orch, job, cfg.MaxAgeDays, log).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, shutdownSignals()...)
	defer stop()

	if err := pf.Write(addr); err != nil {
		return err
	}
	defer func() { _ = pf.Remove() }()

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	sched := scheduler.New(s, orch, cfg, log)
	go func() {
		_ = sched.Run(ctx)
	}()
	if sigs := syncNowSignals(); len(sigs) > 0 {
		syncCh := make(chan os.Signal, 1)
		signal.Notify(syncCh, sigs...)
		defer signal.Stop(syncCh)
		go syncOnSignal(ctx, sched, log, syncCh)
	}

	log.WithField("addr", addr).Info("server listening")

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("listen on %s: %w", addr, err)
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	log.Info("server exited")
	return nil
}

type syncAller interface {
	SyncAll(ctx context.Context) (*scheduler.Result, error)
}

// syncOnSignal runs a full sync pass for every value received on ch until ctx ends.
// Signals that arrive during a pass collapse into one follow-up pass.
func syncOnSignal(ctx context.Context, s syncAller, log logrus.FieldLogger, ch <-chan os.Signal) {
	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-ch:
			log.WithField("signal", sig.String()).Info("sync requested")
			res, err := s.SyncAll(ctx)
			if err != nil {
				if ctx.Err() == nil {
					log.WithError(err).Warn("requested sync failed")
				}
				continue
			}
			log.WithFields(logrus.Fields{"synced": res.Synced, "total": res.Total}).Info("requested sync finished")
		}
	}
}

func serveStartRun() error {
	pf := pidFile()
	if st, err := pf.Running(); err == nil {
		return fmt.Errorf("server already running (pid %d on %s)", st.PID, st.Addr)
	}

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("find executable: %w", err)
	}
	logPath := serveLogPath()
	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer func() { _ = logFile.Close() }()

	args := []string{"serve", "run", "--port", fmt.Sprintf("%d", viper.GetInt("port"))}
	if cfg := viper.ConfigFileUsed(); cfg != "" {
		args = append(args, "--config", cfg)
	}
	child := exec.Command(exe, args...)
	child.Stdout = logFile
	child.Stderr = logFile
	setDaemonAttrs(child)

	if err := child.Start(); err != nil {
		return fmt.Errorf("start server: %w", err)
	}
	_ = child.Process.Release()

	ui.Success("Server started (pid %d) on port %d", child.Process.Pid, viper.GetInt("port"))
	ui.Info("Logs: %s", logPath)
	return nil
}

func serveStopRun() error {
	pf := pidFile()
	st, err := pf.Running()
	if errors.Is(err, daemon.ErrNotRunning) {
		return fmt.Errorf("server is not running")
	}
	if err != nil {
		return err
	}

	if err := pf.Signal(sigTERM()); err != nil {
		return fmt.Errorf("stop pid %d: %w", st.PID, err)
	}

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := pf.Running(); errors.Is(err, daemon.ErrNotRunning) {
			ui.Success("Server stopped")
			return nil
		}
		time.Sleep(200 * time.Millisecond)
	}

	ui.Warning("Server did not exit in time, killing pid %d", st.PID)
	if err := pf.Signal(sigKILL()); err != nil {
		return fmt.Errorf("kill pid %d: %w", st.PID, err)
	}
	_ = pf.Remove()
	return nil
}

func serveStatusRun() error {
	st, err := pidFile().Running()
	if errors.Is(err, daemon.ErrNotRunning) {
		ui.Info("Server is not running")
		return nil
	}
	if err != nil {
		return err
	}
	ui.Success("Server running (pid %d) on %s, up %s", st.PID, st.Addr, st.Uptime(time.Now()))
	return nil
}
