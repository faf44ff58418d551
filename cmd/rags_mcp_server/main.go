package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/nats-io/nats.go"
	"github.com/urfave/cli/v3"

	rags "github.com/intelliswarm-ai/intelliswarm-rags"

	mcpE "github.com/intelliswarm-ai/intelliswarm-rags/mcp"
	natsT "github.com/intelliswarm-ai/intelliswarm-rags/transport/nats"
)

type StdioMCPServer interface {
	AddEndpoint(method mcp.MCPMethod, endpoint mcpE.MCPEndpoint) error
	Listen(ctx context.Context) error
}

func NewStdioMCPServer(in io.Reader, out io.Writer) StdioMCPServer {
	return &stdioMCPServer{
		in:        in,
		out:       out,
		endpoints: make(map[mcp.MCPMethod]mcpE.MCPEndpoint),
	}
}

type stdioMCPServer struct {
	in        io.Reader
	out       io.Writer
	endpoints map[mcp.MCPMethod]mcpE.MCPEndpoint
}

func (s *stdioMCPServer) Listen(ctx context.Context) error {
	scanner := bufio.NewScanner(s.in)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)

	lines := make(chan string)
	errs := make(chan error, 1)

	go func(ctx context.Context, lines chan<- string, errs chan<- error) {
		defer close(lines)

		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}

		if err := scanner.Err(); err != nil {
			errs <- err
		}
	}(ctx, lines, errs)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-errs:
			if errors.Is(err, io.EOF) {
				return nil
			}

			return err

		case line, ok := <-lines:
			if !ok {
				return nil
			}

			resp, ok := s.handle(ctx, line)
			if !ok {
				continue
			}

			bs, err := json.Marshal(resp)
			if err != nil {
				continue
			}

			fmt.Fprintf(s.out, "%s\n", bs)
		}
	}
}

// handle answers one request line; notifications and garbage get no reply.
func (s *stdioMCPServer) handle(ctx context.Context, line string) (mcp.JSONRPCMessage, bool) {
	if line == "" {
		return nil, false
	}

	var req mcpE.JSONRPCRequest
	if err := json.Unmarshal([]byte(line), &req); err != nil {
		return nil, false
	}

	if req.ID.IsNil() {
		return nil, false
	}

	endpoint, ok := s.endpoints[req.Method]
	if !ok {
		return mcp.JSONRPCError{
			JSONRPC: mcp.JSONRPC_VERSION,
			ID:      req.ID,
			Error: struct {
				Code    int    `json:"code"`
				Message string `json:"message"`
				Data    any    `json:"data,omitempty"`
			}{
				Code:    mcp.METHOD_NOT_FOUND,
				Message: "method not found",
			},
		}, true
	}

	return endpoint(ctx, req), true
}

func (srv *stdioMCPServer) AddEndpoint(method mcp.MCPMethod, endpoint mcpE.MCPEndpoint) error {
	_, ok := srv.endpoints[method]
	if ok {
		return errors.New("endpoint already exists")
	}

	srv.endpoints[method] = endpoint
	return nil
}

func main() {
	cmd := &cli.Command{
		Name:  "rags_mcp_server",
		Usage: "Rags MCP Server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "nats",
				Usage:    "NATS server URL",
				Sources:  cli.EnvVars("NATS_URL"),
				Required: true,
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
		Action: run,
	}

	err := cmd.Run(context.Background(), os.Args)
	if err != nil {
		log.Fatal(err.Error())
	}
}

func run(ctx context.Context, cmd *cli.Command) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	topic := cmd.String("topic")

	opts := []nats.Option{
		nats.Name("Rags MCP Server - " + topic),
	}

	if creds := cmd.String("nats-creds"); creds != "" {
		opts = append(opts, nats.UserCredentials(creds))
	}

	nc, err := nats.Connect(cmd.String("nats"), opts...)
	if err != nil {
		return err
	}
	defer nc.Drain()

	endpoints := natsT.MakeEndpoints(nc, topic)

	var svc rags.Service
	svc = rags.ProxyMiddleware(endpoints)(svc)

	s := NewStdioMCPServer(os.Stdin, os.Stdout)
	s.AddEndpoint(mcp.MethodInitialize, mcpE.InitializeEndpoint(svc))
	s.AddEndpoint(mcp.MethodPing, mcpE.PingEndpoint(svc))
	s.AddEndpoint(mcp.MethodToolsList, mcpE.ListToolsEndpoint(svc))
	s.AddEndpoint(mcp.MethodToolsCall, mcpE.CallToolEndpoint(svc))

	done := make(chan error, 1)
	go func() {
		done <- s.Listen(ctx)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)

	select {
	case <-quit:
		cancel()
		return nil

	case err := <-done:
		return err
	}
}
