package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v3"
	"github.com/wricardo/pokerboy/api"
	"github.com/wricardo/pokerboy/transport/mcp"
	"github.com/wricardo/pokerboy/transport/websocket"
	"golang.ngrok.com/ngrok"
	ngrokConfig "golang.ngrok.com/ngrok/config"
)

// serveFlags are defined on the root command; subcommands inherit them
func serveFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "host", Usage: "HTTP server host (overrides api_host)"},
		&cli.IntFlag{Name: "port", Usage: "HTTP server port (overrides api_port)"},
		&cli.BoolFlag{Name: "ngrok", Usage: "expose the server through an ngrok tunnel", Sources: cli.EnvVars("NGROK_ENABLED")},
		&cli.StringFlag{Name: "ngrok-auth", Usage: "ngrok auth token", Sources: cli.EnvVars("NGROK_AUTHTOKEN", "NGROK_AUTH_TOKEN")},
		&cli.StringFlag{Name: "ngrok-domain", Usage: "custom ngrok domain"},
	}
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:   "serve",
		Usage:  "run the REST API, websocket relay and /mcp endpoint",
		Action: runServe,
	}
}

func mcpCommand() *cli.Command {
	return &cli.Command{
		Name:    "mcp",
		Aliases: []string{"stdio-mcp", "mcp-stdio"},
		Usage:   "run an MCP stdio server backed by the REST API",
		Action:  runStdioMCP,
	}
}

// runServe starts the HTTP server with REST API, websocket relay and an /mcp
// proxy endpoint. With --ngrok it also provisions a public tunnel.
func runServe(ctx context.Context, cmd *cli.Command) error {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	if cmd.IsSet("host") {
		cfg.APIHost = cmd.String("host")
	}
	if cmd.IsSet("port") {
		cfg.APIPort = int(cmd.Int("port"))
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	rt, err := newRuntime(cfg, logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	hub := websocket.NewHub(rt.service, logger)
	go hub.Run(ctx)

	addr := cfg.APIAddr()
	handler := newRootHandler(api.NewServer(rt.service, hub, logger), mcp.NewClient("http://"+addr))

	httpServer := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().
			Str("addr", addr).
			Str("server", cfg.ServerURL).
			Msgf("REST API http://%s/api, relay ws://%s/ws?session=<id>, MCP http://%s/mcp", addr, addr, addr)

		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server failed: %w", err)
		}
	}()

	if cmd.Bool("ngrok") {
		go runTunnel(ctx, cmd.String("ngrok-auth"), cmd.String("ngrok-domain"), handler, logger)
	}

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutting down")
	case err := <-errCh:
		return err
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("HTTP server shutdown error")
	}
	logger.Info().Msg("server stopped")
	return nil
}

// newRootHandler mounts the API at the root and the MCP endpoint at /mcp
func newRootHandler(apiServer http.Handler, mcpClient *mcp.Client) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/", apiServer)
	mux.HandleFunc("/mcp", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "Failed to read request", http.StatusBadRequest)
			return
		}
		defer r.Body.Close()

		response := mcpClient.GetMCPServer().HandleMessage(r.Context(), body)

		responseData, err := json.Marshal(response)
		if err != nil {
			http.Error(w, "Failed to marshal response", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(responseData)
	})
	return mux
}

// runTunnel serves handler through ngrok until ctx is cancelled
func runTunnel(ctx context.Context, authToken, domain string, handler http.Handler, logger zerolog.Logger) {
	if authToken == "" {
		logger.Warn().Msg("ngrok enabled but no auth token provided (use --ngrok-auth or NGROK_AUTHTOKEN)")
		return
	}

	tunnel := ngrokConfig.HTTPEndpoint()
	if domain != "" {
		tunnel = ngrokConfig.HTTPEndpoint(ngrokConfig.WithDomain(domain))
	}

	tun, err := ngrok.Listen(ctx, tunnel, ngrok.WithAuthtoken(authToken))
	if err != nil {
		logger.Error().Err(err).Msg("failed to start ngrok tunnel")
		return
	}
	defer tun.Close()

	url := tun.URL()
	logger.Info().Str("url", url).Msgf("ngrok tunnel established: REST %s/api, relay %s/ws, MCP %s/mcp", url, url, url)

	srv := &http.Server{Handler: handler}
	go func() {
		<-ctx.Done()
		srv.Close()
	}()
	if err := srv.Serve(tun); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Warn().Err(err).Msg("ngrok server error")
	}
	logger.Info().Msg("ngrok tunnel closed")
}

// runStdioMCP runs an MCP stdio server. It reuses an API already listening on
// the configured address; otherwise it starts one on a random loopback port.
func runStdioMCP(ctx context.Context, cmd *cli.Command) error {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}

	baseURL := "http://" + cfg.APIAddr()
	if apiAvailable(ctx, baseURL) {
		logger.Info().Str("api", baseURL).Msg("using running API server for MCP")
	} else {
		rt, err := newRuntime(cfg, logger)
		if err != nil {
			return err
		}
		defer rt.Close()

		internalURL, shutdown, err := startInternalAPI(ctx, rt)
		if err != nil {
			return err
		}
		defer shutdown()

		baseURL = internalURL
		logger.Info().Str("api", baseURL).Msg("started internal API server for MCP")
	}

	mcpClient := mcp.NewClient(baseURL)
	if err := server.ServeStdio(mcpClient.GetMCPServer()); err != nil {
		return fmt.Errorf("MCP stdio server error: %w", err)
	}
	return nil
}

func apiAvailable(ctx context.Context, baseURL string) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// startInternalAPI serves the API for rt on 127.0.0.1 and returns its base URL
func startInternalAPI(ctx context.Context, rt *runtime) (string, func(), error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", nil, fmt.Errorf("failed to get available port: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	hub := websocket.NewHub(rt.service, rt.logger)
	go hub.Run(ctx)

	httpServer := &http.Server{Handler: api.NewServer(rt.service, hub, rt.logger)}
	go func() {
		if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			rt.logger.Error().Err(err).Msg("internal HTTP server error")
		}
	}()

	shutdown := func() {
		cancel()
		httpServer.Close()
	}
	return "http://" + listener.Addr().String(), shutdown, nil
}
