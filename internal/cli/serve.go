package cli

import (
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"threatfeed/internal/adapter/httpapi"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Tail the log and serve retrieval",
	Long: `Follow the document log, publish keyword aggregates every sink interval,
and answer retrieval queries over HTTP until interrupted.

Examples:
  threatfeed serve
  threatfeed serve --addr 127.0.0.1:9000 --log-level debug`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()

	addr := cfg.Server.Addr
	if serveAddr != "" {
		addr = serveAddr
	}

	eng, err := buildEngine(cfg, engineOptions{logPath: cfg.Ingest.LogPath, follow: true})
	if err != nil {
		return err
	}
	defer eng.Close()

	server := httpapi.NewServer(addr, eng.retrieve, eng.pipeline, cfg.Server.ShutdownTimeout)
	if err := server.Listen(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Printf("Tailing %s\n", cfg.Ingest.LogPath)
	fmt.Printf("Publishing %s snapshots to %s\n", cfg.Sink.Format, cfg.Sink.Path)
	fmt.Printf("Retrieval endpoint: http://%s/v1/retrieve\n", server.Addr())
	if eng.vectors.Count() > 0 {
		fmt.Printf("Resumed with %d indexed reports\n", eng.vectors.Count())
	}

	// Either side failing stops the other.
	var wg sync.WaitGroup
	var pipelineErr, serverErr error
	wg.Add(2)
	go func() {
		defer wg.Done()
		defer stop()
		pipelineErr = eng.pipeline.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		defer stop()
		serverErr = server.Run(ctx)
	}()
	wg.Wait()

	fmt.Printf("\nShutdown complete:\n")
	printStats(eng.pipeline.Stats())

	if pipelineErr != nil {
		return pipelineErr
	}
	return serverErr
}
