// Copyright 2024 The shelf-go Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// package main is the entrypoint for the shelf book service.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/turtacn/shelf-go/pkg/actor"
	"github.com/turtacn/shelf-go/pkg/config"
	"github.com/turtacn/shelf-go/pkg/db"
	"github.com/turtacn/shelf-go/pkg/logger"
	"github.com/turtacn/shelf-go/pkg/monitor"
	"github.com/turtacn/shelf-go/pkg/notify"
	"github.com/turtacn/shelf-go/pkg/shutdown"
	"github.com/turtacn/shelf-go/pkg/supervisor"
	"github.com/turtacn/shelf-go/pkg/web"
	"go.uber.org/zap"
)

var version = "dev"

// Process exit codes.
const (
	exitOK = iota
	exitConfig
	exitLogger
	exitDatabase
	exitNotifier
	exitBind
	exitAbnormal
)

// exitError carries a process exit code out of the cobra command.
type exitError struct {
	code int
}

func (e exitError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

func newRootCmd(out io.Writer) *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:           "shelfd",
		Short:         "Book shelf HTTP service",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if code := run(configPath, out); code != exitOK {
				return exitError{code: code}
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to a YAML or JSON config file")
	return cmd
}

func main() {
	err := newRootCmd(os.Stdout).Execute()
	var exit exitError
	switch {
	case err == nil:
	case errors.As(err, &exit):
		os.Exit(exit.code)
	default:
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitConfig)
	}
}

// runOption adjusts how run wires the process.
type runOption func(*runSettings)

type runSettings struct {
	signals <-chan os.Signal
	actors  []actor.Actor
}

// withSignals replaces SIGINT/SIGTERM as the coordinator's signal source.
func withSignals(ch <-chan os.Signal) runOption {
	return func(s *runSettings) {
		s.signals = ch
	}
}

// withActors supervises extra actors alongside the built-in ones.
func withActors(actors ...actor.Actor) runOption {
	return func(s *runSettings) {
		s.actors = append(s.actors, actors...)
	}
}

// run wires every actor together, waits for them to finish and maps the
// outcome to an exit code.
func run(configPath string, out io.Writer, opts ...runOption) int {
	var settings runSettings
	for _, opt := range opts {
		opt(&settings)
	}

	boot, err := logger.NewWithWriter("info", logger.FormatConsole, out)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitLogger
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		boot.Error("Failed to load configuration", zap.String("path", configPath), zap.Error(err))
		return exitConfig
	}

	log, err := logger.NewWithWriter(cfg.Log.Level, cfg.Log.Format, out)
	if err != nil {
		boot.Error("Failed to initialize logger", zap.Error(err))
		return exitLogger
	}
	defer log.Sync()
	monitor.SetVersion(version)
	log.Info("Starting shelfd", zap.String("version", version), zap.String("driver", cfg.Database.Driver))

	shutdownOpts := []shutdown.Option{shutdown.WithLogger(log.Named(shutdown.Name))}
	if settings.signals != nil {
		shutdownOpts = append(shutdownOpts, shutdown.WithSignals(settings.signals))
	}
	coordinator := shutdown.New(shutdownOpts...)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Database.ConnectTimeout)
	database, err := db.Connect(ctx, coordinator.Handle(), cfg.Database, db.WithLogger(log.Named(db.Name)))
	cancel()
	if err != nil {
		log.Error("Database is unavailable", zap.Error(err))
		return exitDatabase
	}

	specs := []supervisor.Spec{{Actor: coordinator}, {Actor: database}}
	webOpts := []web.Option{
		web.WithLogger(log.Named(web.Name)),
		web.WithShutdownGrace(cfg.Server.ShutdownGrace),
	}
	if cfg.Events.Enabled() {
		notifier, err := notify.Connect(coordinator.Handle(), cfg.Events, notify.WithLogger(log.Named(notify.Name)))
		if err != nil {
			log.Error("Event broker is unavailable", zap.String("broker", cfg.Events.Broker), zap.Error(err))
			if err := database.Close(); err != nil {
				log.Warn("Failed to close database", zap.Error(err))
			}
			return exitNotifier
		}
		webOpts = append(webOpts, web.WithNotifier(notifier.Notifier()))
		specs = append(specs, supervisor.Spec{Actor: notifier})
	}

	server := web.Init(coordinator.Handle(), cfg.Server.ListenAddress, database.Client(), webOpts...)
	specs = append(specs, supervisor.Spec{Actor: server})
	for _, a := range settings.actors {
		specs = append(specs, supervisor.Spec{Actor: a})
	}

	summaries, err := supervisor.New(log.Named("supervisor")).Run(specs)
	for _, s := range summaries {
		log.Debug("Actor summary", zap.String("actor", s.Actor), zap.Int("processed", s.Processed), zap.Error(s.Err))
	}
	switch {
	case errors.Is(err, web.ErrBind):
		log.Error("Failed to bind listener", zap.String("address", cfg.Server.ListenAddress), zap.Error(err))
		return exitBind
	case err != nil:
		log.Error("Abnormal termination", zap.Error(err))
		return exitAbnormal
	}
	log.Info("Stopped", zap.Stringer("cause", coordinator.Cause()))
	return exitOK
}
