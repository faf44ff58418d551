package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/micro"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	rags "github.com/intelliswarm-ai/intelliswarm-rags"

	mcpE "github.com/intelliswarm-ai/intelliswarm-rags/mcp"
	httpT "github.com/intelliswarm-ai/intelliswarm-rags/transport/http"
	natsT "github.com/intelliswarm-ai/intelliswarm-rags/transport/nats"
)

func main() {
	// .env is optional
	godotenv.Load()

	cmd := &cli.Command{
		Name:  "rags",
		Usage: "Question answering over uploaded documents",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "path",
				Usage:   "Path to the rags working directory",
				Sources: cli.EnvVars("RAGS_PATH"),
			},
			&cli.StringFlag{
				Name:    "nats",
				Usage:   "NATS server URL",
				Sources: cli.EnvVars("NATS_URL"),
			},
			&cli.StringFlag{
				Name:    "nats-creds",
				Usage:   "NATS user credentials file",
				Sources: cli.EnvVars("NATS_CREDS"),
			},
			&cli.StringFlag{
				Name:  "topic",
				Usage: "NATS subject prefix of the rags service",
				Value: "rags",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "Serve the HTTP API, and the NATS service when --nats is set",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "http-addr",
						Usage: "HTTP server address",
						Value: ":8000",
					},
				},
				Action: serve,
			},
			{
				Name:      "ingest",
				Usage:     "Ingest files, walking directories",
				ArgsUsage: "<file|dir>...",
				Action:    ingest,
			},
			{
				Name:   "reindex",
				Usage:  "Rebuild the vector index from stored documents",
				Action: reindex,
			},
			{
				Name:      "search",
				Usage:     "Print the chunks retrieved for a question",
				ArgsUsage: "<question>",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "k",
						Usage: "Number of chunks",
					},
				},
				Action: search,
			},
			{
				Name:      "ask",
				Usage:     "Stream an answer to a question",
				ArgsUsage: "<question>",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "image",
						Usage: "Image file attached to the question",
					},
					&cli.BoolFlag{
						Name:  "remote",
						Usage: "Ask a rags service over NATS instead of the local index",
					},
				},
				Action: ask,
			},
		},
	}

	err := cmd.Run(context.Background(), os.Args)
	if err != nil {
		log.Fatal(err.Error())
	}
}

func workdir(cmd *cli.Command) (string, error) {
	path := cmd.String("path")
	if path != "" {
		return path, nil
	}

	return defaultWorkdir()
}

func defaultWorkdir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	return filepath.Join(homeDir, ".rags"), nil
}

func connect(cmd *cli.Command, name string) (*nats.Conn, error) {
	natsURL := cmd.String("nats")
	if natsURL == "" {
		return nil, errors.New("nats url is required")
	}

	opts := []nats.Option{
		nats.Name(name),
	}

	if creds := cmd.String("nats-creds"); creds != "" {
		opts = append(opts, nats.UserCredentials(creds))
	}

	return nats.Connect(natsURL, opts...)
}

func serve(ctx context.Context, cmd *cli.Command) error {
	log, err := zap.NewDevelopment()
	if err != nil {
		return err
	}
	defer log.Sync()

	zap.ReplaceGlobals(log)

	path, err := workdir(cmd)
	if err != nil {
		return err
	}

	app, err := openApp(path, log)
	if err != nil {
		return err
	}
	defer app.Close()

	svc := app.svc
	endpoints := rags.MakeEndpoints(svc)

	// Add NATS Transport
	if cmd.String("nats") != "" {
		nc, err := connect(cmd, "Rags Server")
		if err != nil {
			return err
		}
		defer nc.Drain()

		srv, err := micro.AddService(nc, micro.Config{
			Name:    "rags",
			Version: "1.0.0",
		})

		if err != nil {
			return err
		}
		defer srv.Stop()

		topic := cmd.String("topic")

		root := srv.AddGroup(topic)
		if err := natsT.AddEndpoints(nc, root, endpoints); err != nil {
			return err
		}

		log.Info("nats service started", zap.String("topic", topic))
	}

	// Add HTTP Transport
	r := gin.Default()
	httpT.AddRouters(r, endpoints)
	httpT.AddMetricsRouter(r, app.registry)

	mcpEndpoints := make(map[mcp.MCPMethod]mcpE.MCPEndpoint)
	mcpEndpoints[mcp.MethodInitialize] = mcpE.InitializeEndpoint(svc)
	mcpEndpoints[mcp.MethodPing] = mcpE.PingEndpoint(svc)
	mcpEndpoints[mcp.MethodToolsList] = mcpE.ListToolsEndpoint(svc)
	mcpEndpoints[mcp.MethodToolsCall] = mcpE.CallToolEndpoint(svc)
	httpT.AddStreamableRouters(r, mcpEndpoints)

	httpAddr := cmd.String("http-addr")
	httpSrv := &http.Server{
		Addr:    httpAddr,
		Handler: r,
	}

	go func() {
		err := httpSrv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server stopped", zap.Error(err))
		}
	}()

	log.Info("http server started", zap.String("addr", httpAddr))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	sign := <-quit

	log.Info("graceful shutdown", zap.String("signal", sign.String()))

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	return httpSrv.Shutdown(ctx)
}

func ingest(ctx context.Context, cmd *cli.Command) error {
	if cmd.NArg() == 0 {
		return errors.New("no files given")
	}

	log, err := zap.NewDevelopment()
	if err != nil {
		return err
	}
	defer log.Sync()

	zap.ReplaceGlobals(log)

	path, err := workdir(cmd)
	if err != nil {
		return err
	}

	app, err := openApp(path, log)
	if err != nil {
		return err
	}
	defer app.Close()

	var failed int
	for _, root := range cmd.Args().Slice() {
		files, err := walkFiles(root)
		if err != nil {
			return err
		}

		for _, file := range files {
			data, err := os.ReadFile(file)
			if err != nil {
				return err
			}

			result, err := app.svc.Ingest(ctx, filepath.Base(file), data)
			if result == nil {
				failed++
				fmt.Fprintf(os.Stderr, "File %s not stored: %v\n", file, err)
				continue
			}

			fmt.Println(result.Status())
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d files not stored", failed)
	}

	return nil
}

// walkFiles expands a path into the regular, non-hidden files beneath it.
func walkFiles(root string) ([]string, error) {
	var files []string

	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}

		hidden := path != root && strings.HasPrefix(d.Name(), ".")

		if d.IsDir() {
			if hidden {
				return filepath.SkipDir
			}

			return nil
		}

		if !hidden && d.Type().IsRegular() {
			files = append(files, path)
		}

		return nil
	})

	return files, err
}

func reindex(ctx context.Context, cmd *cli.Command) error {
	log, err := zap.NewDevelopment()
	if err != nil {
		return err
	}
	defer log.Sync()

	zap.ReplaceGlobals(log)

	path, err := workdir(cmd)
	if err != nil {
		return err
	}

	cfg, err := rags.LoadConfig(path)
	if err != nil {
		return err
	}

	cfg.ApplyEnv()

	if _, err := os.Stat(cfg.Vector.Path); err == nil {
		backup := fmt.Sprintf("%s.bak-%d", cfg.Vector.Path, time.Now().Unix())
		if err := os.Rename(cfg.Vector.Path, backup); err != nil {
			return err
		}

		log.Info("index moved aside", zap.String("backup", backup))
	}

	app, err := openConfig(cfg, log)
	if err != nil {
		return err
	}
	defer app.Close()

	names, err := app.documents.List()
	if err != nil {
		return err
	}

	for _, name := range names {
		data, err := app.documents.Load(name)
		if err != nil {
			return err
		}

		result, err := app.svc.Ingest(ctx, name, data)
		if result == nil {
			return err
		}

		fmt.Println(result.Status())
	}

	log.Info("index rebuilt", zap.Int("documents", len(names)))
	return nil
}

func question(cmd *cli.Command) (string, error) {
	q := strings.TrimSpace(strings.Join(cmd.Args().Slice(), " "))
	if q == "" {
		return "", rags.ErrEmptyQuestion
	}

	return q, nil
}

func search(ctx context.Context, cmd *cli.Command) error {
	q, err := question(cmd)
	if err != nil {
		return err
	}

	path, err := workdir(cmd)
	if err != nil {
		return err
	}

	app, err := openApp(path, zap.NewNop())
	if err != nil {
		return err
	}
	defer app.Close()

	chunks, err := app.svc.Retrieve(ctx, q, int(cmd.Int("k")))
	if err != nil {
		return err
	}

	for i, chunk := range chunks {
		fmt.Printf("[%d] (%s)\n%s\n\n", i+1, chunk.Source, chunk.Text)
	}

	return nil
}

func ask(ctx context.Context, cmd *cli.Command) error {
	q, err := question(cmd)
	if err != nil {
		return err
	}

	var image []byte
	if imagePath := cmd.String("image"); imagePath != "" {
		image, err = os.ReadFile(imagePath)
		if err != nil {
			return err
		}
	}

	var svc rags.Service

	if cmd.Bool("remote") {
		nc, err := connect(cmd, "Rags Client")
		if err != nil {
			return err
		}
		defer nc.Drain()

		endpoints := natsT.MakeEndpoints(nc, cmd.String("topic"))
		svc = rags.ProxyMiddleware(endpoints)(svc)
	} else {
		path, err := workdir(cmd)
		if err != nil {
			return err
		}

		app, err := openApp(path, zap.NewNop())
		if err != nil {
			return err
		}
		defer app.Close()

		svc = app.svc
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stream, err := svc.Ask(ctx, q, image)
	if err != nil {
		return err
	}
	defer stream.Close()

	for {
		fragment, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			fmt.Println()
			return nil
		}

		if err != nil {
			fmt.Println()
			return err
		}

		fmt.Print(fragment)
	}
}
