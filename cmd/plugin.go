package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/MimeLyc/subvert/internal/config"
	"github.com/MimeLyc/subvert/internal/service"
	"github.com/MimeLyc/subvert/pkg/log"
)

const modeExtractAll = "ExtractAll"

// pluginInput is the JSON document Stash writes to a plugin's stdin.
type pluginInput struct {
	ServerConnection serverConnection `json:"server_connection"`
	Args             struct {
		Mode string `json:"mode"`
	} `json:"args"`
}

type serverConnection struct {
	Scheme        string `json:"Scheme"`
	Host          string `json:"Host"`
	Port          int    `json:"Port"`
	ApiKey        string `json:"ApiKey"`
	SessionCookie *struct {
		Name  string `json:"Name"`
		Value string `json:"Value"`
	} `json:"SessionCookie"`
}

// URL is the Stash base URL. Stash reports its bind address, so a wildcard
// host is replaced by localhost.
func (c serverConnection) URL() string {
	scheme := c.Scheme
	if scheme == "" {
		scheme = "http"
	}
	host := c.Host
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	if c.Port > 0 {
		host = net.JoinHostPort(host, strconv.Itoa(c.Port))
	}
	return (&url.URL{Scheme: scheme, Host: host}).String()
}

func (in pluginInput) options() []config.Option {
	opts := []config.Option{
		config.WithStashURL(in.ServerConnection.URL()),
		config.WithLogFormat("plugin"),
	}
	if in.ServerConnection.ApiKey != "" {
		opts = append(opts, config.WithAPIKey(in.ServerConnection.ApiKey))
	}
	if c := in.ServerConnection.SessionCookie; c != nil {
		opts = append(opts, config.WithSessionCookie(c.Name, c.Value))
	}
	return opts
}

func newPluginCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "plugin",
		Short: "Run as a Stash plugin task (JSON on stdin, result on stdout)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.InOrStdin() == os.Stdin && !stdinIsPiped() {
				return errors.New("plugin mode expects the Stash plugin JSON input on stdin")
			}
			return runPlugin(cmd.Context(), ctx, cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
}

// runPlugin always answers Stash on stdout. The returned error only reports
// a failure to write that answer.
func runPlugin(ctx context.Context, cc *commandContext, stdin io.Reader, stdout, stderr io.Writer) error {
	if err := executePlugin(ctx, cc, stdin, stderr); err != nil {
		log.Error("%v", err)
		return writePluginResult(stdout, map[string]string{"error": err.Error()})
	}
	return writePluginResult(stdout, map[string]string{"output": "ok"})
}

func executePlugin(ctx context.Context, cc *commandContext, stdin io.Reader, stderr io.Writer) error {
	var in pluginInput
	if err := json.NewDecoder(stdin).Decode(&in); err != nil {
		return fmt.Errorf("read plugin input: %w", err)
	}

	cfg, err := cc.loadConfig(in.options()...)
	if err != nil {
		return err
	}
	if err := log.TruncateFile(cfg.Log.File); err != nil {
		log.Warn("Could not clear log file %s: %v", cfg.Log.File, err)
	}
	closeLog, err := setupLogging(cfg, stderr)
	if err != nil {
		return err
	}
	defer closeLog()

	if !strings.Contains(in.Args.Mode, modeExtractAll) {
		log.Debug("Nothing to do for plugin mode %q", in.Args.Mode)
		return nil
	}

	log.Info("Running %s", modeExtractAll)
	opts := []service.Option{service.WithInstanceLock(cfg.LockPath())}
	if store := openStore(cfg); store != nil {
		defer store.Close()
		opts = append(opts, service.WithRecorder(store))
	}
	_, err = service.NewFromConfig(*cfg, opts...).Run(ctx, "plugin")
	return err
}

func writePluginResult(w io.Writer, result map[string]string) error {
	if err := json.NewEncoder(w).Encode(result); err != nil {
		return fmt.Errorf("write plugin result: %w", err)
	}
	return nil
}

// stdinIsPiped reports whether stdin carries plugin input rather than a terminal.
func stdinIsPiped() bool {
	return !isTerminal(os.Stdin)
}
