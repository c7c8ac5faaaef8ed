package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	config "github.com/drummonds/piconverter/config"
	engine "github.com/drummonds/piconverter/engine"
	"github.com/drummonds/piconverter/engine/delivery"
	"github.com/drummonds/piconverter/engine/imagecodec"
	"github.com/drummonds/piconverter/engine/pdfrenderer"
	"github.com/drummonds/piconverter/internal/build"
	"github.com/drummonds/piconverter/queue"
)

type commandContext struct {
	configPath string
	cfg        config.Config
}

func newRootCommand() *cobra.Command {
	ctx := &commandContext{}

	root := &cobra.Command{
		Use:           "piconverter",
		Short:         "Convert PDFs and images on this machine",
		Long:          "piconverter turns PDFs into images and back, merges and shrinks PDFs and optimises images. Nothing leaves the machine.",
		Version:       build.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := config.Setup(ctx.configPath)
			injectGlobals(logger) //inject the logger into all of the packages
			if err != nil {
				return err
			}
			ctx.cfg = cfg
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&ctx.configPath, "config", "c", "", "Configuration file path")

	for _, tool := range engine.Tools() {
		root.AddCommand(newToolCommand(ctx, tool))
	}
	root.AddCommand(
		newToolsCommand(),
		newInspectCommand(),
		newServeCommand(ctx),
		newWatchCommand(ctx),
	)
	return root
}

func newToolCommand(ctx *commandContext, tool engine.ToolDescriptor) *cobra.Command {
	var outputDir string
	cmd := &cobra.Command{
		Use:   string(tool.Kind) + " FILE...",
		Short: tool.Title,
		Long:  tool.Description,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if outputDir == "" {
				outputDir = ctx.cfg.OutputDir
			}
			return runTool(cmd.Context(), cmd.OutOrStdout(), ctx.cfg, tool, args, outputDir)
		},
	}
	cmd.Flags().StringVarP(&outputDir, "output", "o", "", "Directory to write results to (defaults to the configured output directory)")
	return cmd
}

// runTool converts files with one tool. Multi-input tools combine every file into one
// result; single-input tools convert each file on its own.
func runTool(ctx context.Context, out io.Writer, cfg config.Config, tool engine.ToolDescriptor, files []string, outputDir string) error {
	payloads := make([]queue.Payload, 0, len(files))
	sizes := make([]int64, 0, len(files))
	for _, path := range files {
		payload, err := queue.LoadFile(path)
		if err != nil {
			return err
		}
		if !tool.AcceptsMIME(payload.MIMEType) {
			return fmt.Errorf("%s is %s but %s accepts %s", path, payload.MIMEType, tool.Kind, tool.AcceptFilter())
		}
		payloads = append(payloads, payload)
		sizes = append(sizes, payload.Size)
	}
	if tool.AllowsMultipleInputs {
		if err := cfg.Limits.Check(0, 0, sizes, true); err != nil {
			return err
		}
	}

	dirSink, err := delivery.NewDirSink(outputDir)
	if err != nil {
		return err
	}
	var outputs [][]string
	sink := delivery.Func(func(ctx context.Context, r delivery.Result) error {
		if err := dirSink.Deliver(ctx, r); err != nil {
			return err
		}
		outputs = append(outputs, []string{delivery.SafeName(r.Filename), humanize.Bytes(uint64(len(r.Bytes)))})
		return nil
	})

	ws := engine.NewWorkspace(pdfrenderer.NewBackendProvider(cfg.Renderer), cfg.PreviewDir, cfg.Limits)
	defer ws.Close()
	lane, err := ws.Lane(string(tool.Kind))
	if err != nil {
		return err
	}

	batches := [][]queue.Payload{payloads}
	if !tool.AllowsMultipleInputs {
		batches = batches[:0]
		for i := range payloads {
			batches = append(batches, payloads[i:i+1])
		}
	}

	colorize := shouldColorize(out)
	failed := false
	for _, batch := range batches {
		lane.Select(batch)
		if err := lane.Execute(ctx, sink); err != nil {
			failed = true
		}
		for _, item := range lane.Queue.Items() {
			fmt.Fprintf(out, "%s %s\n", statusLabel(item.Status, colorize), item.Payload.Name)
		}
	}

	if len(outputs) > 0 {
		fmt.Fprintln(out, renderTable([]string{"Output", "Size"}, outputs, []columnAlignment{alignLeft, alignRight}))
		fmt.Fprintf(out, "Written to %s\n", outputDir)
	}
	if failed {
		return engine.ErrProcessingFailed
	}
	return nil
}

func newToolsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "List the conversion tools",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var rows [][]string
			for _, tool := range engine.Tools() {
				multi := "no"
				if tool.AllowsMultipleInputs {
					multi = "yes"
				}
				rows = append(rows, []string{string(tool.Kind), tool.Title, tool.AcceptFilter(), multi})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Tool", "Title", "Accepts", "Multiple"}, rows, nil))
			return nil
		},
	}
}

func newInspectCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect FILE...",
		Short: "Show what piconverter sees in each file",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rows := make([][]string, 0, len(args))
			for _, path := range args {
				payload, err := queue.LoadFile(path)
				if err != nil {
					return err
				}
				rows = append(rows, []string{payload.Name, payload.MIMEType, humanize.Bytes(uint64(payload.Size)), describe(payload), toolsFor(payload.MIMEType)})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"File", "Type", "Size", "Content", "Tools"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft, alignLeft}))
			return nil
		},
	}
}

func describe(payload queue.Payload) string {
	switch {
	case queue.IsPDFMIME(payload.MIMEType):
		pages, err := queue.ProbePages(payload.Bytes)
		if err != nil {
			return "unreadable pdf"
		}
		return fmt.Sprintf("%d pages", pages)
	case imagecodec.IsImageMIME(payload.MIMEType):
		w, h, err := imagecodec.Dimensions(payload.Bytes)
		if err != nil {
			return "unreadable image"
		}
		return fmt.Sprintf("%dx%d", w, h)
	default:
		return "-"
	}
}

func toolsFor(mimeType string) string {
	var kinds []string
	for _, tool := range engine.Tools() {
		if tool.AcceptsMIME(mimeType) {
			kinds = append(kinds, string(tool.Kind))
		}
	}
	if len(kinds) == 0 {
		return "-"
	}
	return strings.Join(kinds, ", ")
}

// @title piconverter API
// @version 1.0
// @description Local file conversion: PDF to image, image to PDF, merge PDFs, shrink PDFs and images

// @host localhost:8000
// @BasePath /api
// @schemes http

// @tag.name Tools
// @tag.description Tool listing, execution and state

// @tag.name Queue
// @tag.description Per tool file queues and previews

// @tag.name Admin
// @tag.description Application information

func newServeCommand(ctx *commandContext) *cobra.Command {
	var addr, port string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the conversion API on the loopback interface",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			serverConfig := ctx.cfg
			if addr != "" {
				serverConfig.ListenAddrIP = addr
			}
			if port != "" {
				serverConfig.ListenAddrPort = port
			}
			if err := engine.StartupChecks(serverConfig, false); err != nil {
				return err
			}

			ws := engine.NewWorkspace(pdfrenderer.NewBackendProvider(serverConfig.Renderer), serverConfig.PreviewDir, serverConfig.Limits)
			defer ws.Close()
			e := engine.NewServer(ws, serverConfig)

			sigCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			go func() {
				<-sigCtx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := e.Shutdown(shutdownCtx); err != nil {
					Logger.Error("Server shutdown failed", "error", err)
				}
			}()
			return startServer(e, serverConfig)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Address to bind (defaults to SERVER_ADDR, 127.0.0.1)")
	cmd.Flags().StringVarP(&port, "port", "p", "", "Port to listen on (defaults to SERVER_PORT)")
	return cmd
}

type starter interface {
	Start(address string) error
}

// startServer starts the server, moving to the next port when the requested one is taken
func startServer(e starter, serverConfig config.Config) error {
	if serverConfig.ListenAddrIP == "" {
		Logger.Warn("No Ip Addr set, binding on loopback only")
		serverConfig.ListenAddrIP = "127.0.0.1"
	}

	maxRetries := 5
	startPort := serverConfig.ListenAddrPort
	for attempt := 0; attempt < maxRetries; attempt++ {
		addr := fmt.Sprintf("%s:%s", serverConfig.ListenAddrIP, serverConfig.ListenAddrPort)
		Logger.Info("Attempting to start server", "address", addr, "attempt", attempt+1)

		startErr := e.Start(addr)
		switch {
		case startErr == nil, errors.Is(startErr, http.ErrServerClosed):
			if serverConfig.ListenAddrPort != startPort {
				Logger.Warn("Server ran on alternative port due to conflicts",
					"requested_port", startPort,
					"actual_port", serverConfig.ListenAddrPort)
			}
			return nil
		case isAddressInUse(startErr):
			Logger.Warn("Port already in use, trying next port",
				"port", serverConfig.ListenAddrPort,
				"attempt", attempt+1,
				"max_attempts", maxRetries)
			portNum, err := strconv.Atoi(serverConfig.ListenAddrPort)
			if err != nil {
				return fmt.Errorf("invalid port %q: %w", serverConfig.ListenAddrPort, err)
			}
			serverConfig.ListenAddrPort = strconv.Itoa(portNum + 1)
		default:
			Logger.Error("Failed to start server", "error", startErr)
			return startErr
		}
	}
	Logger.Error("Failed to find available port after maximum retries",
		"start_port", startPort,
		"end_port", serverConfig.ListenAddrPort,
		"max_retries", maxRetries)
	return fmt.Errorf("no free port between %s and %s", startPort, serverConfig.ListenAddrPort)
}

// isAddressInUse checks if the error is due to address already in use
func isAddressInUse(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "address already in use")
}

func newWatchCommand(ctx *commandContext) *cobra.Command {
	var tool, inbox, outbox, doneFolder string
	var interval int
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Convert files dropped into an inbox directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			serverConfig := ctx.cfg
			if tool != "" {
				serverConfig.Watch.Tool = tool
			}
			if inbox != "" {
				serverConfig.Watch.Inbox = inbox
			}
			if outbox != "" {
				serverConfig.Watch.Outbox = outbox
			}
			if doneFolder != "" {
				serverConfig.Watch.DoneFolder = doneFolder
				serverConfig.Watch.Delete = false
			}
			if interval > 0 {
				serverConfig.Watch.Interval = interval
			}
			if err := engine.StartupChecks(serverConfig, true); err != nil {
				return err
			}

			provider := pdfrenderer.NewBackendProvider(serverConfig.Renderer)
			defer provider.Close()
			watcher, err := engine.NewWatcher(engine.NewConverter(provider), serverConfig.PreviewDir, serverConfig.Watch)
			if err != nil {
				return err
			}
			if err := watcher.Start(); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			ok := color.New(color.FgGreen)
			if !shouldColorize(out) {
				ok.DisableColor()
			}
			ok.Fprintf(out, "✓ Watching %s with %s every %d minute(s)\n", serverConfig.Watch.Inbox, serverConfig.Watch.Tool, serverConfig.Watch.Interval)

			sigCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			<-sigCtx.Done()
			Logger.Info("Stopping watcher", "inbox", serverConfig.Watch.Inbox)
			return watcher.Stop()
		},
	}
	cmd.Flags().StringVarP(&tool, "tool", "t", "", "Tool to run on the inbox")
	cmd.Flags().StringVar(&inbox, "inbox", "", "Directory to watch")
	cmd.Flags().StringVar(&outbox, "outbox", "", "Directory to write results to")
	cmd.Flags().StringVar(&doneFolder, "done", "", "Move converted sources here instead of deleting them")
	cmd.Flags().IntVar(&interval, "interval", 0, "Minutes between passes")
	return cmd
}
