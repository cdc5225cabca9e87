package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/AMDEPYC/thermal-governor/internal/server"
)

const clientTimeout = 5 * time.Second

type controlClient struct {
	baseURL string
	http    *http.Client
}

func newControlClient(address string) *controlClient {
	if !strings.HasPrefix(address, "http://") && !strings.HasPrefix(address, "https://") {
		address = "http://" + address
	}
	return &controlClient{
		baseURL: strings.TrimSuffix(address, "/"),
		http:    &http.Client{Timeout: clientTimeout},
	}
}

func (c *controlClient) do(method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error string `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err != nil || apiErr.Error == "" {
			return fmt.Errorf("%s %s: %s", method, path, resp.Status)
		}
		return fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, apiErr.Error)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func addAddressFlag(cmd *cobra.Command, address *string) {
	cmd.Flags().StringVar(address, "addr", "", "Address of the control surface, defaults to the configured listen address.")
}

func resolveAddress(global *globalFlags, address string) (string, error) {
	if address != "" {
		return address, nil
	}
	cfg, err := global.loadConfig()
	if err != nil {
		return "", err
	}
	if cfg.ListenAddress == "" {
		return "", fmt.Errorf("control surface is disabled in the configuration, use --addr")
	}
	return cfg.ListenAddress, nil
}

func newStatusCmd(global *globalFlags) *cobra.Command {
	var address string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the state of a running governor.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			addr, err := resolveAddress(global, address)
			if err != nil {
				return err
			}

			var status server.StatusResponse
			if err := newControlClient(addr).do(http.MethodGet, "/api/status", nil, &status); err != nil {
				return err
			}
			printStatus(cmd.OutOrStdout(), status)
			return nil
		},
	}
	addAddressFlag(cmd, &address)

	return cmd
}

func printStatus(out io.Writer, status server.StatusResponse) {
	ceiling := "unrestricted"
	if status.Ceiling != nil {
		ceiling = formatFreq(*status.Ceiling)
	}
	temperature := "n/a"
	if status.Temperature != nil {
		temperature = fmt.Sprintf("%d°C", *status.Temperature)
	}

	fmt.Fprintf(out, "threshold:    %d°C\n", status.Threshold)
	fmt.Fprintf(out, "temperature:  %s\n", temperature)
	fmt.Fprintf(out, "throttling:   %t\n", status.Throttling)
	fmt.Fprintf(out, "ceiling:      %s\n", ceiling)
	fmt.Fprintf(out, "hold left:    %s\n", status.TimeLeft)
	fmt.Fprintf(out, "ticks:        %d (%d skipped)\n", status.Stats.Ticks, status.Stats.SkippedSamples)
}

func newSetThresholdCmd(global *globalFlags) *cobra.Command {
	var address string

	cmd := &cobra.Command{
		Use:   "set-threshold <celsius>",
		Short: "Change the baseline threshold of a running governor.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			threshold, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid threshold %q: %w", args[0], err)
			}
			addr, err := resolveAddress(global, address)
			if err != nil {
				return err
			}

			var resp server.ThresholdResponse
			req := server.ThresholdRequest{Threshold: &threshold}
			if err := newControlClient(addr).do(http.MethodPut, "/api/threshold", req, &resp); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "threshold set to %d°C\n", resp.Threshold)
			return nil
		},
	}
	addAddressFlag(cmd, &address)

	return cmd
}

func newSetSamplePeriodCmd(global *globalFlags) *cobra.Command {
	var address string

	cmd := &cobra.Command{
		Use:   "set-sample-period <duration>",
		Short: "Change the sample period of a running governor.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			period, err := time.ParseDuration(args[0])
			if err != nil {
				return fmt.Errorf("invalid sample period %q: %w", args[0], err)
			}
			addr, err := resolveAddress(global, address)
			if err != nil {
				return err
			}

			var resp server.SamplePeriodResponse
			req := server.SamplePeriodRequest{SamplePeriod: period.String()}
			if err := newControlClient(addr).do(http.MethodPut, "/api/sample-period", req, &resp); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "sample period set to %s\n", resp.SamplePeriod)
			return nil
		},
	}
	addAddressFlag(cmd, &address)

	return cmd
}
