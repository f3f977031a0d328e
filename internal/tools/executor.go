// Package tools projects an assistant's configured tools into LLM tool
// definitions and executes the calls the model makes.
//
// Built-in kinds (endCall, transfer, dtmf) resolve to action results the
// orchestrator interprets; query kinds delegate to a knowledge retriever;
// function kinds POST to the tool's configured server. Execution failures
// are returned as data (`{"error": ...}`) so the conversation can continue —
// only malformed configuration fails construction.
package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/voxpipe-ai/voxpipe/pkg/types"
)

// queryPrefix prefixes the projected name of query-kind tools.
const queryPrefix = "queryKnowledge_"

// executeTimeout bounds a single function-tool HTTP round trip.
const executeTimeout = 10 * time.Second

var digitsRe = regexp.MustCompile(`^[0-9*#]+$`)

// KnowledgeRetriever answers knowledge-base queries for query-kind tools.
type KnowledgeRetriever interface {
	Query(ctx context.Context, knowledgeBaseID, query string) (any, error)
}

// Executor holds an assistant's resolved tool set.
type Executor struct {
	byName     map[string]types.Tool
	defs       []types.ToolDefinition
	httpClient *http.Client
	retriever  KnowledgeRetriever
}

// Option is a functional option for Executor.
type Option func(*Executor)

// WithHTTPClient overrides the HTTP client used for function tools.
func WithHTTPClient(c *http.Client) Option {
	return func(e *Executor) { e.httpClient = c }
}

// WithKnowledgeRetriever installs the collaborator answering query tools.
// Without one, query tools return an empty well-formed result.
func WithKnowledgeRetriever(r KnowledgeRetriever) Option {
	return func(e *Executor) { e.retriever = r }
}

// New builds an Executor from the assistant's tool list. Function-tool
// parameter schemas are validated as JSON Schema here so a bad config fails
// the call at setup rather than mid-conversation.
func New(toolList []types.Tool, opts ...Option) (*Executor, error) {
	e := &Executor{
		byName:     make(map[string]types.Tool, len(toolList)),
		httpClient: &http.Client{Timeout: executeTimeout},
	}
	for _, o := range opts {
		o(e)
	}

	for _, t := range toolList {
		def, err := project(t)
		if err != nil {
			return nil, err
		}
		if _, dup := e.byName[def.Name]; dup {
			return nil, fmt.Errorf("tools: duplicate tool name %q", def.Name)
		}
		e.byName[def.Name] = t
		e.defs = append(e.defs, def)
	}
	return e, nil
}

// project converts one configured tool into its LLM-facing definition.
func project(t types.Tool) (types.ToolDefinition, error) {
	switch t.Kind {
	case types.ToolKindEndCall:
		return types.ToolDefinition{
			Name:        "endCall",
			Description: orDefault(t.Description, "End the call when the conversation is complete."),
			Parameters: objectSchema(map[string]any{
				"reason": map[string]any{"type": "string", "description": "Why the call is ending."},
			}, nil),
		}, nil

	case types.ToolKindTransfer:
		dests := make([]string, 0, len(t.Destinations))
		for _, d := range t.Destinations {
			dests = append(dests, d.Number)
		}
		destSchema := map[string]any{
			"type":        "string",
			"description": "Destination number to transfer to.",
		}
		if len(dests) > 0 {
			destSchema["enum"] = dests
		}
		return types.ToolDefinition{
			Name:        "transferCall",
			Description: orDefault(t.Description, "Transfer the call to another destination."),
			Parameters: objectSchema(map[string]any{
				"reason":      map[string]any{"type": "string", "description": "Why the call is being transferred."},
				"destination": destSchema,
			}, []string{"destination"}),
		}, nil

	case types.ToolKindDTMF:
		return types.ToolDefinition{
			Name:        "pressDigits",
			Description: orDefault(t.Description, "Press DTMF digits on the call."),
			Parameters: objectSchema(map[string]any{
				"digits": map[string]any{"type": "string", "pattern": "^[0-9*#]+$"},
			}, []string{"digits"}),
		}, nil

	case types.ToolKindQuery:
		if t.KnowledgeBaseID == "" {
			return types.ToolDefinition{}, fmt.Errorf("tools: query tool %q has no knowledge base id", t.ID)
		}
		return types.ToolDefinition{
			Name:        queryPrefix + t.KnowledgeBaseID,
			Description: orDefault(t.Description, "Query the knowledge base."),
			Parameters: objectSchema(map[string]any{
				"query": map[string]any{"type": "string"},
			}, []string{"query"}),
		}, nil

	case types.ToolKindFunction:
		if t.Name == "" {
			return types.ToolDefinition{}, fmt.Errorf("tools: function tool %q has no name", t.ID)
		}
		if t.ServerURL == "" {
			return types.ToolDefinition{}, fmt.Errorf("tools: function tool %q has no server url", t.Name)
		}
		params := t.Parameters
		if params == nil {
			params = objectSchema(map[string]any{}, nil)
		}
		if err := validateSchema(t.Name, params); err != nil {
			return types.ToolDefinition{}, err
		}
		return types.ToolDefinition{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  params,
		}, nil

	default:
		return types.ToolDefinition{}, fmt.Errorf("tools: unknown tool kind %q", t.Kind)
	}
}

// validateSchema checks that params is itself a valid JSON Schema document.
func validateSchema(name string, params map[string]any) error {
	raw, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("tools: marshal %q parameters: %w", name, err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("tool.json", bytes.NewReader(raw)); err != nil {
		return fmt.Errorf("tools: tool %q parameters are not a valid schema: %w", name, err)
	}
	if _, err := c.Compile("tool.json"); err != nil {
		return fmt.Errorf("tools: tool %q parameters are not a valid schema: %w", name, err)
	}
	return nil
}

// Definitions returns the LLM-facing tool definitions in configured order.
func (e *Executor) Definitions() []types.ToolDefinition {
	return e.defs
}

// Execute runs the named tool with the given JSON arguments. The result is
// always a JSON-shaped map; execution failures come back as
// {"error": message} so the model can react to them.
func (e *Executor) Execute(ctx context.Context, name, arguments string) map[string]any {
	args := map[string]any{}
	if arguments != "" {
		if err := json.Unmarshal([]byte(arguments), &args); err != nil {
			return map[string]any{"error": fmt.Sprintf("invalid arguments: %v", err)}
		}
	}

	switch {
	case name == "endCall":
		return map[string]any{"action": "end_call", "reason": str(args, "reason")}

	case name == "transferCall":
		dest := str(args, "destination")
		if dest == "" {
			return map[string]any{"error": "destination is required"}
		}
		return map[string]any{"action": "transfer", "destination": dest, "reason": str(args, "reason")}

	case name == "pressDigits":
		digits := str(args, "digits")
		if !digitsRe.MatchString(digits) {
			return map[string]any{"error": "digits must match [0-9*#]+"}
		}
		return map[string]any{"action": "dtmf", "digits": digits}

	case strings.HasPrefix(name, queryPrefix):
		return e.executeQuery(ctx, strings.TrimPrefix(name, queryPrefix), str(args, "query"))

	default:
		return e.executeFunction(ctx, name, args)
	}
}

// executeQuery delegates to the knowledge retriever, or returns an empty
// result set when none is configured.
func (e *Executor) executeQuery(ctx context.Context, kbID, query string) map[string]any {
	if e.retriever == nil {
		return map[string]any{"results": []any{}, "note": "knowledge base unavailable"}
	}
	res, err := e.retriever.Query(ctx, kbID, query)
	if err != nil {
		return map[string]any{"error": err.Error()}
	}
	return map[string]any{"results": res}
}

// executeFunction POSTs {tool, arguments} to the tool's server.
func (e *Executor) executeFunction(ctx context.Context, name string, args map[string]any) map[string]any {
	tool, ok := e.byName[name]
	if !ok || tool.Kind != types.ToolKindFunction {
		return map[string]any{"error": fmt.Sprintf("unknown tool %q", name)}
	}

	body, err := json.Marshal(map[string]any{"tool": name, "arguments": args})
	if err != nil {
		return map[string]any{"error": fmt.Sprintf("marshal request: %v", err)}
	}

	ctx, cancel := context.WithTimeout(ctx, executeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tool.ServerURL, bytes.NewReader(body))
	if err != nil {
		return map[string]any{"error": fmt.Sprintf("build request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return map[string]any{"error": fmt.Sprintf("call %s: %v", name, err)}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return map[string]any{"error": fmt.Sprintf("read response: %v", err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return map[string]any{"error": fmt.Sprintf("tool server returned %d: %s", resp.StatusCode, truncate(string(raw), 256))}
	}

	var result map[string]any
	if err := json.Unmarshal(raw, &result); err != nil {
		// Non-JSON responses are passed through as text.
		return map[string]any{"result": string(raw)}
	}
	return result
}

func objectSchema(props map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

func orDefault(s, def string) string {
	if s != "" {
		return s
	}
	return def
}

func str(m map[string]any, key string) string {
	v, _ := m[key].(string)
	return v
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
