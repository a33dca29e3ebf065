// SPDX-License-Identifier: GPL-2.0-only

package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/MatthiasValvekens/usbip-device-emulator/usb"
	"github.com/MatthiasValvekens/usbip-device-emulator/usbip"
	"github.com/efficientgo/core/errors"
	"github.com/spf13/cobra"
	flag "github.com/spf13/pflag"
	"github.com/spf13/viper"
	"sigs.k8s.io/yaml"
)

const (
	outputJSON = "json"
	outputYAML = "yaml"
)

func addProbeFlags(fs *flag.FlagSet) {
	fs.String("target", net.JoinHostPort("localhost", strconv.Itoa(usbip.DefaultPort)), "The USB/IP server to query.")
	fs.StringP("output", "o", outputJSON, "Output format: json or yaml.")
	fs.Duration("timeout", 5*time.Second, "How long to wait for each reply.")
}

func newListCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the devices exported by a USB/IP server",
		Example: `  # List the devices of a local emulator
  $ usbip-device-emulator list --target localhost:3240`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := initConfig(cmd.Flags()); err != nil {
				return err
			}
			conn, err := dialTarget(cmd.Context())
			if err != nil {
				return err
			}
			defer conn.Close()

			devs, err := conn.ListRequest()
			if err != nil {
				return err
			}
			return printObject(cmd, devs)
		},
	}
	addProbeFlags(cmd.Flags())
	return cmd
}

// description is what describe reports about an imported device.
type description struct {
	Device        usbip.Device                `json:"device"`
	Descriptor    usb.DeviceDescriptor        `json:"descriptor"`
	Configuration usb.ConfigurationDescriptor `json:"configuration"`
	// Tree is the hex-encoded configuration tree.
	Tree    string           `json:"tree"`
	Strings map[uint8]string `json:"strings,omitempty"`
	// Reports holds hex-encoded input reports read from the first
	// interrupt IN endpoint.
	Reports []string `json:"reports,omitempty"`
}

func newDescribeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "describe",
		Short: "Import a device and print its descriptors",
		Example: `  # Describe the device on bus 1-1
  $ usbip-device-emulator describe --target localhost:3240 --bus-id 1-1`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := initConfig(cmd.Flags()); err != nil {
				return err
			}
			conn, err := dialTarget(cmd.Context())
			if err != nil {
				return err
			}
			defer conn.Close()

			d, err := describe(conn, viper.GetString("bus-id"), viper.GetInt("reports"))
			if err != nil {
				return err
			}
			return printObject(cmd, d)
		},
	}
	addProbeFlags(cmd.Flags())
	cmd.Flags().String("bus-id", "1-1", "The bus id of the device to describe.")
	cmd.Flags().Int("reports", 0, "The number of input reports to read from the device's interrupt endpoint.")
	return cmd
}

func dialTarget(ctx context.Context) (*usbip.Connection, error) {
	addr := viper.GetString("target")
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse target %q: %w", addr, err)
	}
	portNum, err := strconv.Atoi(port)
	if err != nil {
		return nil, fmt.Errorf("failed to parse target port %q: %w", port, err)
	}
	ctx, cancel := context.WithTimeout(ctx, viper.GetDuration("timeout"))
	defer cancel()
	conn, err := usbip.Target{Host: host, Port: portNum}.Dial(ctx)
	if err != nil {
		return nil, err
	}
	conn.SetReplyTimeout(viper.GetDuration("timeout"))
	return conn, nil
}

// describe imports busID on conn and reads back its descriptors the way a
// host enumerates a new device. It then reads up to reports input reports.
func describe(conn *usbip.Connection, busID string, reports int) (*description, error) {
	dev, err := conn.ImportRequest(busID)
	if err != nil {
		return nil, err
	}
	d := &description{Device: *dev}

	get := func(t usb.DescriptorType, index uint8, langID uint16, length uint16) ([]byte, error) {
		setup := usb.SetupPacket{
			RequestType: 0x80,
			Request:     usb.RequestGetDescriptor,
			Value:       uint16(t)<<8 | uint16(index),
			Index:       langID,
			Length:      length,
		}
		res, err := conn.Submit(usbip.ControlRequest{Setup: setup.Bytes(), Length: uint32(length)})
		if err != nil {
			return nil, err
		}
		if res.Status != usbip.StatusOK {
			return nil, errors.Newf("%v descriptor %d: status %d", t, index, res.Status)
		}
		return res.Data, nil
	}

	raw, err := get(usb.DescriptorTypeDevice, 0, 0, usb.DeviceDescriptorSize)
	if err != nil {
		return nil, err
	}
	if d.Descriptor, err = usb.ParseDeviceDescriptor(raw); err != nil {
		return nil, err
	}

	raw, err = get(usb.DescriptorTypeConfiguration, 0, 0, usb.ConfigurationDescriptorSize)
	if err != nil {
		return nil, err
	}
	if d.Configuration, err = usb.ParseConfigurationDescriptor(raw); err != nil {
		return nil, err
	}
	tree, err := get(usb.DescriptorTypeConfiguration, 0, 0, d.Configuration.TotalLength)
	if err != nil {
		return nil, err
	}
	d.Tree = hex.EncodeToString(tree)

	for _, idx := range []uint8{d.Descriptor.ManufacturerIndex, d.Descriptor.ProductIndex, d.Descriptor.SerialNumberIndex} {
		if idx == 0 {
			continue
		}
		raw, err := get(usb.DescriptorTypeString, idx, usb.LanguageEnglishUS, 0xFF)
		if err != nil {
			return nil, err
		}
		s, err := usb.DecodeStringDescriptor(raw)
		if err != nil {
			return nil, errors.Wrapf(err, "string %d", idx)
		}
		if d.Strings == nil {
			d.Strings = make(map[uint8]string)
		}
		d.Strings[idx] = s
	}

	if reports <= 0 {
		return d, nil
	}
	eps, err := usb.ParseTreeEndpoints(tree)
	if err != nil {
		return nil, errors.Wrap(err, "parsing configuration tree")
	}
	ep, ok := interruptIn(eps)
	if !ok {
		return nil, errors.New("device has no interrupt IN endpoint")
	}
	for range reports {
		res, err := conn.Transfer(uint32(ep.Number()), usbip.DirIn, uint32(ep.MaxPacketSize), nil)
		if err != nil {
			return nil, errors.Wrapf(err, "reading report from endpoint %#02x", ep.Address)
		}
		if res.Status != usbip.StatusOK {
			return nil, errors.Newf("endpoint %#02x: status %d", ep.Address, res.Status)
		}
		d.Reports = append(d.Reports, hex.EncodeToString(res.Data))
	}
	return d, nil
}

func interruptIn(eps []usb.EndpointDescriptor) (usb.EndpointDescriptor, bool) {
	for _, ep := range eps {
		if ep.IsIn() && ep.TransferType() == usb.TransferTypeInterrupt {
			return ep, true
		}
	}
	return usb.EndpointDescriptor{}, false
}

func printObject(cmd *cobra.Command, data any) error {
	switch output := viper.GetString("output"); output {
	case outputJSON:
		b, err := json.MarshalIndent(data, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal json: %w", err)
		}
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), string(b))
		return nil
	case outputYAML:
		b, err := yaml.Marshal(data)
		if err != nil {
			return fmt.Errorf("failed to marshal yaml: %w", err)
		}
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), string(b))
		return nil
	default:
		return fmt.Errorf("unsupported format %q. Supported formats: [json, yaml]", output)
	}
}
