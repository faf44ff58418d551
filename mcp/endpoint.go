package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	rags "github.com/intelliswarm-ai/intelliswarm-rags"
)

type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      mcp.RequestId   `json:"id"`
	Method  mcp.MCPMethod   `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

func errorResponse(id mcp.RequestId, code int, message string) mcp.JSONRPCError {
	return mcp.JSONRPCError{
		JSONRPC: mcp.JSONRPC_VERSION,
		ID:      id,
		Error: struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
			Data    any    `json:"data,omitempty"`
		}{
			Code:    code,
			Message: message,
		},
	}
}

type MCPEndpoint func(ctx context.Context, req JSONRPCRequest) mcp.JSONRPCMessage

const MCPSERVER_INSTRUCTIONS string = `Rags answers questions over the documents uploaded to it.

- search_documents: find the passages most relevant to a query
- ask_documents: answer a question using the most relevant passages as context

Documents are uploaded through the rags HTTP or NATS interfaces.`

const (
	ToolSearchDocuments = "search_documents"
	ToolAskDocuments    = "ask_documents"
)

var ErrToolNotFound = errors.New("tool not found")

func Tools() []mcp.Tool {
	return []mcp.Tool{
		mcp.NewTool(ToolSearchDocuments,
			mcp.WithDescription("Search the uploaded documents for the passages most relevant to a query."),
			mcp.WithString("query",
				mcp.Required(),
				mcp.Description("Natural language search query"),
			),
			mcp.WithNumber("k",
				mcp.Description("Maximum number of passages to return"),
			),
		),
		mcp.NewTool(ToolAskDocuments,
			mcp.WithDescription("Answer a question using the uploaded documents as context."),
			mcp.WithString("question",
				mcp.Required(),
				mcp.Description("Question to answer"),
			),
		),
	}
}

func InitializeEndpoint(svc rags.Service) MCPEndpoint {
	return func(ctx context.Context, req JSONRPCRequest) mcp.JSONRPCMessage {
		var params mcp.InitializeParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return errorResponse(req.ID, mcp.INVALID_PARAMS, err.Error())
		}

		protocolVersion := mcp.LATEST_PROTOCOL_VERSION
		if clientVersion := params.ProtocolVersion; clientVersion != "" {
			if slices.Contains(mcp.ValidProtocolVersions, clientVersion) {
				protocolVersion = clientVersion
			}
		}

		result := &mcp.InitializeResult{
			ProtocolVersion: protocolVersion,
			Capabilities: mcp.ServerCapabilities{
				Tools: &struct {
					ListChanged bool `json:"listChanged,omitempty"`
				}{},
			},
			ServerInfo: mcp.Implementation{
				Name:    "rags",
				Version: "1.0.0",
			},
			Instructions: MCPSERVER_INSTRUCTIONS,
		}

		return mcp.JSONRPCResponse{
			JSONRPC: mcp.JSONRPC_VERSION,
			ID:      req.ID,
			Result:  result,
		}
	}
}

func PingEndpoint(svc rags.Service) MCPEndpoint {
	return func(ctx context.Context, req JSONRPCRequest) mcp.JSONRPCMessage {
		return mcp.JSONRPCResponse{
			JSONRPC: mcp.JSONRPC_VERSION,
			ID:      req.ID,
			Result:  struct{}{},
		}
	}
}

func ListToolsEndpoint(svc rags.Service) MCPEndpoint {
	return func(ctx context.Context, req JSONRPCRequest) mcp.JSONRPCMessage {
		result := &mcp.ListToolsResult{
			Tools: Tools(),
		}

		return mcp.JSONRPCResponse{
			JSONRPC: mcp.JSONRPC_VERSION,
			ID:      req.ID,
			Result:  result,
		}
	}
}

type toolArguments struct {
	Query    string  `json:"query"`
	K        float64 `json:"k"`
	Question string  `json:"question"`
}

func CallToolEndpoint(svc rags.Service) MCPEndpoint {
	return func(ctx context.Context, req JSONRPCRequest) mcp.JSONRPCMessage {
		var params mcp.CallToolParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return errorResponse(req.ID, mcp.INVALID_PARAMS, err.Error())
		}

		// arguments arrive as a generic map; round-trip them into a struct
		var args toolArguments
		if params.Arguments != nil {
			bs, err := json.Marshal(params.Arguments)
			if err != nil {
				return errorResponse(req.ID, mcp.INVALID_PARAMS, err.Error())
			}

			if err := json.Unmarshal(bs, &args); err != nil {
				return errorResponse(req.ID, mcp.INVALID_PARAMS, err.Error())
			}
		}

		var (
			result *mcp.CallToolResult
			err    error
		)

		switch params.Name {
		case ToolSearchDocuments:
			result, err = searchDocuments(ctx, svc, args)

		case ToolAskDocuments:
			result, err = askDocuments(ctx, svc, args)

		default:
			return errorResponse(req.ID, mcp.METHOD_NOT_FOUND, ErrToolNotFound.Error()+": "+params.Name)
		}

		if err != nil {
			result = &mcp.CallToolResult{
				Content: []mcp.Content{mcp.NewTextContent(err.Error())},
				IsError: true,
			}
		}

		return mcp.JSONRPCResponse{
			JSONRPC: mcp.JSONRPC_VERSION,
			ID:      req.ID,
			Result:  result,
		}
	}
}

func searchDocuments(ctx context.Context, svc rags.Service, args toolArguments) (*mcp.CallToolResult, error) {
	if strings.TrimSpace(args.Query) == "" {
		return nil, errors.New("query is required")
	}

	chunks, err := svc.Retrieve(ctx, args.Query, int(args.K))
	if err != nil {
		return nil, err
	}

	if len(chunks) == 0 {
		return mcp.NewToolResultText("No documents indexed."), nil
	}

	content := make([]mcp.Content, len(chunks))
	for i, chunk := range chunks {
		content[i] = mcp.NewTextContent(fmt.Sprintf("[%d] (%s) %s", i+1, chunk.Source, chunk.Text))
	}

	return &mcp.CallToolResult{Content: content}, nil
}

func askDocuments(ctx context.Context, svc rags.Service, args toolArguments) (*mcp.CallToolResult, error) {
	stream, err := svc.Ask(ctx, args.Question, nil)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	var sb strings.Builder
	for {
		fragment, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}

		if err != nil {
			return nil, err
		}

		sb.WriteString(fragment)
	}

	return mcp.NewToolResultText(sb.String()), nil
}
