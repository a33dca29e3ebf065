// SPDX-License-Identifier: GPL-2.0-only

package main

// This project is GPL-2.0, but this file contains code from generic-device-plugin.
// Original license notice below.
//
// Copyright 2020 the generic-device-plugin authors
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

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/MatthiasValvekens/usbip-device-emulator/profiles"
	"github.com/MatthiasValvekens/usbip-device-emulator/server"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/oklog/run"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	logLevelAll   = "all"
	logLevelDebug = "debug"
	logLevelInfo  = "info"
	logLevelWarn  = "warn"
	logLevelError = "error"
	logLevelNone  = "none"
)

const (
	logFormatJSON   = "json"
	logFormatLogfmt = "logfmt"
)

var (
	availableLogLevels = strings.Join([]string{
		logLevelAll,
		logLevelDebug,
		logLevelInfo,
		logLevelWarn,
		logLevelError,
		logLevelNone,
	}, ", ")
	availableLogFormats = strings.Join([]string{logFormatJSON, logFormatLogfmt}, ", ")
)

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "usbip-device-emulator",
		Short: "Export an emulated USB device over USB/IP",
		Long: `usbip-device-emulator serves a software keyboard, mouse or printer on
the USB/IP port. Attach it from any Linux host with:

  usbip attach -r <host> -b 1-1`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := initConfig(cmd.Flags()); err != nil {
				return err
			}
			return serve()
		},
	}
	addGlobalFlags(cmd.PersistentFlags())
	addServeFlags(cmd.Flags())

	cmd.AddCommand(
		newListCommand(),
		newDescribeCommand(),
	)
	return cmd
}

func newLogger() (log.Logger, error) {
	var logger log.Logger
	switch format := viper.GetString("log-format"); format {
	case logFormatJSON:
		logger = log.NewJSONLogger(log.NewSyncWriter(os.Stdout))
	case logFormatLogfmt:
		logger = log.NewLogfmtLogger(log.NewSyncWriter(os.Stdout))
	default:
		return nil, fmt.Errorf("log format %v unknown; possible values are: %s", format, availableLogFormats)
	}

	logLevel := viper.GetString("log-level")
	switch logLevel {
	case logLevelAll:
		logger = level.NewFilter(logger, level.AllowAll())
	case logLevelDebug:
		logger = level.NewFilter(logger, level.AllowDebug())
	case logLevelInfo:
		logger = level.NewFilter(logger, level.AllowInfo())
	case logLevelWarn:
		logger = level.NewFilter(logger, level.AllowWarn())
	case logLevelError:
		logger = level.NewFilter(logger, level.AllowError())
	case logLevelNone:
		logger = level.NewFilter(logger, level.AllowNone())
	default:
		return nil, fmt.Errorf("log level %v unknown; possible values are: %s", logLevel, availableLogLevels)
	}
	logger = log.With(logger, "ts", log.DefaultTimestampUTC)
	logger = log.With(logger, "caller", log.DefaultCaller)
	return logger, nil
}

func serve() error {
	logger, err := newLogger()
	if err != nil {
		return err
	}

	listen, err := validateListen("listen")
	if err != nil {
		return err
	}
	metricsListen := viper.GetString("metrics-listen")
	if metricsListen != "" {
		if _, err := validateListen("metrics-listen"); err != nil {
			return err
		}
	}

	name := viper.GetString("device")
	opts, spool, err := profileOptions()
	if err != nil {
		return err
	}
	if spool != nil {
		defer spool.Close()
	}
	opts.Logger = log.With(logger, "device", name)
	profile, err := profiles.Build(name, opts)
	if err != nil {
		return err
	}

	r := prometheus.NewRegistry()
	r.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	var g run.Group
	{
		// Serve USB/IP.
		l, err := net.Listen("tcp", listen)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %v", listen, err)
		}
		srv := server.New(profile,
			server.WithLogger(log.With(logger, "component", "usbip")),
			server.WithRegisterer(r),
			server.WithMaxConnections(viper.GetInt("max-connections")),
			server.WithShutdownTimeout(viper.GetDuration("shutdown-timeout")),
		)
		ctx, cancel := context.WithCancel(context.Background())
		g.Add(func() error {
			_ = logger.Log("msg", fmt.Sprintf("Emulating a %s on %s.", name, listen))
			return srv.Serve(ctx, l)
		}, func(error) {
			cancel()
		})
	}

	if metricsListen != "" {
		// Run the HTTP server.
		mux := http.NewServeMux()
		mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
		mux.Handle("/metrics", promhttp.HandlerFor(r, promhttp.HandlerOpts{}))
		l, err := net.Listen("tcp", metricsListen)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %v", metricsListen, err)
		}

		g.Add(func() error {
			if err := http.Serve(l, mux); err != nil && err != http.ErrServerClosed {
				return fmt.Errorf("server exited unexpectedly: %v", err)
			}
			return nil
		}, func(error) {
			_ = l.Close()
		})
	}

	{
		// Exit gracefully on SIGINT and SIGTERM.
		term := make(chan os.Signal, 1)
		signal.Notify(term, syscall.SIGINT, syscall.SIGTERM)
		cancel := make(chan struct{})
		g.Add(func() error {
			for {
				select {
				case <-term:
					_ = logger.Log("msg", "caught interrupt; gracefully cleaning up; see you next time!")
					return nil
				case <-cancel:
					return nil
				}
			}
		}, func(error) {
			close(cancel)
		})
	}

	return g.Run()
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Execution failed: %v\n", err)
		os.Exit(1)
	}
}
