package main

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
)

// ctlCmd talks to a running bridge's control surface over HTTP.
func ctlCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "ctl",
		Short: "Control a running bridge",
		Long:  "Sends commands to the control surface of a running 'chatrelay run' process.",
	}
	cmd.PersistentFlags().StringVar(&addr, "addr", "", "control address (default: bridge.controlAddr from config)")

	resolveAddr := func() string {
		if addr != "" {
			return addr
		}
		return loadConfig().Bridge.ControlAddr
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "inject [text]",
		Short: "Inject a text message into the composer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctlPost(resolveAddr(), "/inject", map[string]string{"text": args[0]})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "attach [file]",
		Short: "Attach a local file to the composer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			name := filepath.Base(args[0])
			return ctlPost(resolveAddr(), "/attach", map[string]string{
				"filename":  name,
				"mime_type": mime.TypeByExtension(filepath.Ext(name)),
				"data":      base64.StdEncoding.EncodeToString(data),
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "voice",
		Short: "Toggle voice mode",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctlPost(resolveAddr(), "/voice/toggle", nil)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "reconnect",
		Short: "Re-read the configured server endpoint and reconnect the relay",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctlPost(resolveAddr(), "/reconnect", nil)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show bridge status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctlGet(resolveAddr(), "/status")
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "dom",
		Short: "Dump DOM diagnostics for the selector targets",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctlGet(resolveAddr(), "/dom")
		},
	})

	return cmd
}

var ctlClient = &http.Client{Timeout: 30 * time.Second}

func ctlPost(addr, path string, body any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	resp, err := ctlClient.Post("http://"+addr+path, "application/json", &buf)
	if err != nil {
		return fmt.Errorf("is the bridge running? %w", err)
	}
	return printResponse(resp)
}

func ctlGet(addr, path string) error {
	resp, err := ctlClient.Get("http://" + addr + path)
	if err != nil {
		return fmt.Errorf("is the bridge running? %w", err)
	}
	return printResponse(resp)
}

func printResponse(resp *http.Response) error {
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	fmt.Println(string(bytes.TrimSpace(data)))
	if resp.StatusCode >= 400 {
		return fmt.Errorf("control request failed: %s", resp.Status)
	}
	return nil
}
