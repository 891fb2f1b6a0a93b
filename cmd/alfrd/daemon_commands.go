package main

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sirmick/alfrd-sub000/internal/config"
	"github.com/sirmick/alfrd-sub000/internal/daemonrun"
	"github.com/sirmick/alfrd-sub000/internal/store"
)

func newDaemonCommand(ctx *commandContext) *cobra.Command {
	var logLevel string

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the processing daemon in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return daemonrun.Run(cmd.Context(), cfg, daemonrun.Options{LogLevel: logLevel})
		},
	}
	cmd.Flags().StringVar(&logLevel, "log-level", "", "Override the configured log level")
	return cmd
}

func newStartCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the daemon in the background",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if pid, running := daemonPID(cfg); running {
				return fmt.Errorf("daemon already running (pid %d)", pid)
			}

			executable, err := os.Executable()
			if err != nil {
				return fmt.Errorf("resolve executable: %w", err)
			}
			daemonArgs := []string{"daemon"}
			if ctx.configFlag != nil && strings.TrimSpace(*ctx.configFlag) != "" {
				daemonArgs = append(daemonArgs, "--config", *ctx.configFlag)
			}
			child := exec.Command(executable, daemonArgs...)
			child.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
			child.Stdin = nil
			child.Stdout = nil
			child.Stderr = nil
			if err := child.Start(); err != nil {
				return fmt.Errorf("spawn daemon: %w", err)
			}
			if err := child.Process.Release(); err != nil {
				return fmt.Errorf("detach daemon: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Started alfrd daemon (pid %d)\n", child.Process.Pid)
			fmt.Fprintf(cmd.OutOrStdout(), "Logs: %s\n", filepath.Join(cfg.Paths.LogDir, "alfrd.log"))
			return nil
		},
	}
}

func newStopCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the running daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			pid, running := daemonPID(cfg)
			if !running {
				return errors.New("daemon is not running")
			}
			if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
				return fmt.Errorf("signal daemon: %w", err)
			}

			deadline := time.After(15 * time.Second)
			for {
				if err := syscall.Kill(pid, 0); err != nil {
					fmt.Fprintf(cmd.OutOrStdout(), "Stopped alfrd daemon (pid %d)\n", pid)
					return nil
				}
				select {
				case <-deadline:
					return fmt.Errorf("daemon (pid %d) did not exit within 15s", pid)
				case <-time.After(100 * time.Millisecond):
				}
			}
		},
	}
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon and queue status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, st *store.Store) error {
				out := cmd.OutOrStdout()
				pid, running := daemonPID(cfg)
				if running {
					fmt.Fprintf(out, "Daemon: %s (pid %d)\n", colorize(out, ansiGreen, "running"), pid)
				} else {
					fmt.Fprintf(out, "Daemon: %s\n", colorize(out, ansiRed, "stopped"))
				}
				fmt.Fprintf(out, "Database: %s\n", st.Path())

				health, err := st.Health(cmd.Context())
				if err != nil {
					return err
				}
				rows := [][]string{
					{"Total", strconv.Itoa(health.Total)},
					{"Pending", strconv.Itoa(health.Pending)},
					{"Processing", strconv.Itoa(health.Processing)},
					{"Failed", strconv.Itoa(health.Failed)},
					{"Permanently failed", strconv.Itoa(health.PermanentlyFailed)},
					{"Completed", strconv.Itoa(health.Completed)},
				}
				fmt.Fprintln(out, renderTable([]string{"Documents", "Count"}, rows, []columnAlignment{alignLeft, alignRight}))
				return nil
			})
		},
	}
}

// daemonPID reads the pid file and checks process liveness.
func daemonPID(cfg *config.Config) (int, bool) {
	data, err := os.ReadFile(filepath.Join(cfg.Paths.DataDir, "alfrd.pid"))
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, false
	}
	if err := syscall.Kill(pid, 0); err != nil {
		return pid, false
	}
	return pid, true
}
