package main

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"

	"swingmetrics/controller"
	"swingmetrics/errors"
	"swingmetrics/services/ingest"
	"swingmetrics/services/stats"
	"swingmetrics/utils"
	"swingmetrics/views"
)

func main() {
	cmd := &cli.Command{
		Name:        "swingmetrics",
		Usage:       "record accelerometer and gyroscope sessions to CSV",
		Description: "press Enter to start or stop a session, q to quit",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Usage:   "swingmetrics yaml config file, defaults apply if it is missing",
				Value:   "config/swingmetrics.yaml",
				Sources: cli.EnvVars("SWING_CONFIG_FILE"),
			},
			&cli.StringFlag{
				Name:  "log",
				Usage: "optional log file path (stdout is always included)",
			},
			&cli.StringFlag{
				Name:  "output",
				Usage: "CSV destination, overrides output.path",
			},
			&cli.DurationFlag{
				Name:  "duration",
				Usage: "record one session for this long, then export and exit",
			},
		},
		Action: runRecorder,
		Commands: []*cli.Command{
			{
				Name:   "config",
				Usage:  "print the effective configuration",
				Action: printConfig,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig(c *cli.Command) (*utils.Config, error) {
	cfg, err := utils.LoadConfig(c.String("config"))
	if err != nil {
		return nil, err
	}
	if v := c.String("log"); v != "" {
		cfg.Logging.File = v
	}
	if v := c.String("output"); v != "" {
		cfg.Output.Path = v
	}
	return cfg, nil
}

func printConfig(_ context.Context, c *cli.Command) error {
	cfg, err := loadConfig(c.Root())
	if err != nil {
		return err
	}
	out, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	fmt.Print(string(out))
	return nil
}

func runRecorder(ctx context.Context, c *cli.Command) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	logger := utils.InitLogger(cfg.Logging)
	defer logger.Close()

	utils.L().Info("swingmetrics recorder  GOMAXPROCS=%d  PID=%d", runtime.GOMAXPROCS(0), os.Getpid())

	if !cfg.Simulation.Enabled {
		return errors.InvalidConfig("simulation.enabled", "false: no device sensor backend in this build")
	}
	platform := ingest.NewSimulatedPlatform(cfg.UnsupportedKinds()...)

	metrics := stats.NewMetrics()
	if cfg.Metrics.Port != 0 {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		srv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Metrics.Port), Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				utils.L().Error("metrics server: %v", err)
			}
		}()
		defer srv.Close()
	}

	exporter := views.NewCSVExporter(views.CSVOptions{
		Separator:    cfg.Output.Separator,
		Precision:    cfg.Output.Precision,
		WriteHeader:  cfg.Output.WriteHeader,
		BufferSizeKB: cfg.Output.BufferSizeKB,
	})
	session := controller.NewRecordingSession(cfg, platform, exporter, metrics)
	defer func() {
		if err := session.Close(); err != nil {
			utils.L().Error("final export: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	duration := c.Duration("duration")
	if duration <= 0 && cfg.Simulation.DurationSeconds > 0 {
		duration = time.Duration(cfg.Simulation.DurationSeconds) * time.Second
	}
	if duration > 0 {
		return recordFor(ctx, session, duration)
	}
	return interactive(ctx, session)
}

// recordFor records a single session and exports it.
func recordFor(ctx context.Context, session *controller.RecordingSession, d time.Duration) error {
	if _, err := session.Start(); err != nil {
		return err
	}
	utils.L().Info("recording will auto-stop after %s", d)

	timer := time.NewTimer(d)
	defer timer.Stop()
	statsTicker := time.NewTicker(5 * time.Second)
	defer statsTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return finish(session)
		case <-timer.C:
			return finish(session)
		case ev := <-session.Events():
			if ev.Type == controller.EventAutoStopped {
				logStop(ev.Result)
				return ev.Err
			}
			utils.L().Warn("%s: %v", ev.Type, ev.Err)
		case <-statsTicker.C:
			session.Sensors().LogStats()
		}
	}
}

func finish(session *controller.RecordingSession) error {
	res, err := session.Stop()
	logStop(res)
	return err
}

// interactive turns each line on stdin into a press of the start/stop button.
func interactive(ctx context.Context, session *controller.RecordingSession) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			lines <- strings.TrimSpace(sc.Text())
		}
	}()

	fmt.Println("press Enter to START")
	statsTicker := time.NewTicker(5 * time.Second)
	defer statsTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			utils.L().Info("shutting down")
			return nil

		case line, ok := <-lines:
			if !ok || line == "q" {
				return nil
			}
			tr, err := session.Toggle()
			if err != nil {
				utils.L().Error("%v", err)
			}
			if tr.Capture != nil && tr.Capture.Degraded() {
				utils.L().Warn("recording with partial capture: %v", tr.Capture.Err())
			}
			if tr.Stop != nil {
				logStop(tr.Stop)
			}
			if tr.State == controller.Recording {
				fmt.Println("press Enter to STOP")
			} else {
				fmt.Println("press Enter to START")
			}

		case ev := <-session.Events():
			utils.L().Warn("%s: %v", ev.Type, ev.Err)
			if ev.Type == controller.EventAutoStopped {
				logStop(ev.Result)
				fmt.Println("press Enter to START")
			}

		case <-statsTicker.C:
			if session.State() == controller.Recording {
				session.Sensors().LogStats()
			}
		}
	}
}

func logStop(res *controller.StopResult) {
	if res == nil {
		return
	}
	utils.L().Info("session %s: %d rows (accel=%d, gyro=%d) -> %s", res.SessionID, res.Rows, res.AccelRows, res.GyroRows, res.Path)
	for k, n := range res.Dropped {
		utils.L().Warn("  %s dropped %d samples", k, n)
	}
}
