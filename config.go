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
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/MatthiasValvekens/usbip-device-emulator/device"
	"github.com/MatthiasValvekens/usbip-device-emulator/profiles"
	"github.com/MatthiasValvekens/usbip-device-emulator/usbip"
	"github.com/efficientgo/core/errors"
	flag "github.com/spf13/pflag"
	"github.com/spf13/viper"
	"k8s.io/apimachinery/pkg/util/validation"
)

// addGlobalFlags defines flags shared by every command.
func addGlobalFlags(fs *flag.FlagSet) {
	fs.String("config", "", "Path to the config file.")
	fs.String("log-level", logLevelInfo, fmt.Sprintf("Log level to use. Possible values: %s", availableLogLevels))
	fs.String("log-format", logFormatJSON, fmt.Sprintf("Log format to use. Possible values: %s", availableLogFormats))
}

// addServeFlags defines the flags of the emulator itself.
func addServeFlags(fs *flag.FlagSet) {
	fs.String("listen", fmt.Sprintf(":%d", usbip.DefaultPort), "The address at which to serve USB/IP.")
	fs.String("metrics-listen", ":8080", "The address at which to listen for health and metrics. Empty disables it.")
	fs.String("device", profiles.Keyboard, fmt.Sprintf("The device to emulate. Possible values: %s", strings.Join(profiles.Names(), ", ")))
	fs.String("bus-id", device.DefaultBusID, "The bus id under which the device is exported.")
	fs.Int("max-connections", 0, "The maximum number of concurrent sessions; 0 means unlimited.")
	fs.Duration("shutdown-timeout", 5*time.Second, "How long to wait for open sessions on shutdown.")
	fs.Duration("report-interval", profiles.DefaultReportInterval, "The interval between synthetic HID input reports.")
	fs.Int("report-limit", 0, "The number of HID input reports sent per session; 0 means unlimited.")
	fs.String("spool", "", "A file receiving the data sent to an emulated printer.")
}

// initConfig binds flags, the config file and the environment.
func initConfig(fs *flag.FlagSet) error {
	if err := viper.BindPFlags(fs); err != nil {
		return fmt.Errorf("failed to bind config: %w", err)
	}

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath("/etc/usbip-device-emulator/")
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found; ignore error
		} else {
			// Config file was found but another error was produced
			return fmt.Errorf("failed to read config file: %w", err)
		}
	}

	return nil
}

// validateListen checks a host:port listen address. An empty host binds
// all interfaces; other hosts are IP literals or DNS names.
func validateListen(key string) (string, error) {
	addr := viper.GetString(key)
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "", fmt.Errorf("failed to parse %s address %q: %w", key, addr, err)
	}
	portNum, err := strconv.Atoi(port)
	if err != nil {
		return "", fmt.Errorf("failed to parse %s port %q: %w", key, port, err)
	}
	if errs := validation.IsValidPortNum(portNum); len(errs) > 0 {
		return "", fmt.Errorf("invalid %s port %d: %s", key, portNum, strings.Join(errs, ", "))
	}
	switch {
	case host == "":
	case net.ParseIP(host) != nil:
		if errs := validation.IsValidIP(nil, host); len(errs) > 0 {
			return "", fmt.Errorf("invalid %s host %q: %s", key, host, errs.ToAggregate())
		}
	default:
		if errs := validation.IsDNS1123Subdomain(host); len(errs) > 0 {
			return "", fmt.Errorf("failed to parse %s host %q: %s", key, host, strings.Join(errs, ", "))
		}
	}
	return addr, nil
}

// profileOptions assembles the options of the configured profile. The
// caller closes the returned spool file, if any.
func profileOptions() (profiles.Options, *os.File, error) {
	opts := profiles.Options{
		ReportInterval: viper.GetDuration("report-interval"),
		ReportLimit:    viper.GetInt("report-limit"),
		Seed:           uint64(time.Now().UnixNano()),
	}
	if opts.ReportInterval <= 0 {
		return opts, nil, errors.Newf("report interval must be positive, got %v", opts.ReportInterval)
	}
	if opts.ReportLimit < 0 {
		return opts, nil, errors.Newf("report limit must not be negative, got %d", opts.ReportLimit)
	}

	id := device.DefaultIdentity()
	id.BusID = viper.GetString("bus-id")
	opts.Identity = id

	overrides, err := profiles.DecodeOverrides(viper.Get("overrides"))
	if err != nil {
		return opts, nil, err
	}
	opts.Overrides = overrides

	path := viper.GetString("spool")
	if path == "" {
		return opts, nil, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return opts, nil, errors.Wrapf(err, "failed to open spool file %s", path)
	}
	opts.Spool = f
	return opts, f, nil
}
