package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mark3labs/mcp-go/mcp"
	"gopkg.in/yaml.v3"

	"labelctl/internal/config"
)

// OutputFormat represents the output format for CLI commands
type OutputFormat string

const (
	OutputFormatTable OutputFormat = "table"
	OutputFormatJSON  OutputFormat = "json"
	OutputFormatYAML  OutputFormat = "yaml"
)

// ParseOutputFormat validates a --output flag value.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(strings.ToLower(s)); f {
	case OutputFormatTable, OutputFormatJSON, OutputFormatYAML:
		return f, nil
	case "":
		return OutputFormatTable, nil
	default:
		return "", fmt.Errorf("unsupported output format %q (use table, json or yaml)", s)
	}
}

// ExecutorOptions contains options for tool execution
type ExecutorOptions struct {
	Format OutputFormat
	Quiet  bool
	// Out receives formatted output. Defaults to os.Stdout.
	Out io.Writer
}

// ToolExecutor provides high-level tool execution functionality
type ToolExecutor struct {
	client  *CLIClient
	options ExecutorOptions
}

// NewToolExecutor creates a tool executor for the daemon configured by cfg
func NewToolExecutor(cfg config.LabelctlConfig, options ExecutorOptions) (*ToolExecutor, error) {
	client, err := NewCLIClient(cfg)
	if err != nil {
		return nil, err
	}
	return NewToolExecutorWithClient(client, options), nil
}

// NewToolExecutorWithClient wraps an existing client.
func NewToolExecutorWithClient(client *CLIClient, options ExecutorOptions) *ToolExecutor {
	if options.Out == nil {
		options.Out = os.Stdout
	}
	if options.Format == "" {
		options.Format = OutputFormatTable
	}
	return &ToolExecutor{client: client, options: options}
}

// Connect establishes connection to the daemon
func (e *ToolExecutor) Connect(ctx context.Context) error {
	return e.client.Connect(ctx)
}

// Close closes the connection
func (e *ToolExecutor) Close() error {
	return e.client.Close()
}

// Execute executes a tool and formats the output
func (e *ToolExecutor) Execute(ctx context.Context, toolName string, arguments map[string]interface{}) error {
	result, err := e.client.CallTool(ctx, toolName, arguments)
	if err != nil {
		return fmt.Errorf("failed to execute tool %s: %w", toolName, err)
	}

	if result.IsError {
		return e.formatError(result)
	}

	return e.formatOutput(result)
}

// ExecuteJSON executes a tool and decodes its result into out
func (e *ToolExecutor) ExecuteJSON(ctx context.Context, toolName string, args map[string]interface{}, out interface{}) error {
	return e.client.CallToolJSON(ctx, toolName, args, out)
}

// formatError turns a tool error into a Go error. Printing is left to the caller.
func (e *ToolExecutor) formatError(result *mcp.CallToolResult) error {
	return fmt.Errorf("%s", strings.Join(texts(result), "\n"))
}

// formatOutput formats the tool output according to the specified format
func (e *ToolExecutor) formatOutput(result *mcp.CallToolResult) error {
	if len(result.Content) == 0 {
		if !e.options.Quiet {
			fmt.Fprintln(e.options.Out, "No results")
		}
		return nil
	}

	textContent, ok := mcp.AsTextContent(result.Content[0])
	if !ok {
		return fmt.Errorf("content is not text")
	}

	return e.Render(textContent.Text)
}

// Render prints a JSON document in the configured format.
func (e *ToolExecutor) Render(jsonData string) error {
	switch e.options.Format {
	case OutputFormatJSON:
		fmt.Fprintln(e.options.Out, jsonData)
		return nil
	case OutputFormatYAML:
		return e.outputYAML(jsonData)
	case OutputFormatTable:
		return e.outputTable(jsonData)
	default:
		return fmt.Errorf("unsupported output format: %s", e.options.Format)
	}
}

// outputYAML converts JSON to YAML and prints it
func (e *ToolExecutor) outputYAML(jsonData string) error {
	var data interface{}
	if err := json.Unmarshal([]byte(jsonData), &data); err != nil {
		return fmt.Errorf("failed to parse JSON: %w", err)
	}

	yamlData, err := yaml.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to convert to YAML: %w", err)
	}

	fmt.Fprint(e.options.Out, string(yamlData))
	return nil
}

// outputTable formats data as tables
func (e *ToolExecutor) outputTable(jsonData string) error {
	var data interface{}
	if err := json.Unmarshal([]byte(jsonData), &data); err != nil {
		fmt.Fprintln(e.options.Out, jsonData)
		return nil
	}

	switch d := data.(type) {
	case map[string]interface{}:
		return e.formatTableFromObject(d)
	case []interface{}:
		return e.formatTableFromArray(d)
	default:
		fmt.Fprintln(e.options.Out, jsonData)
		return nil
	}
}

// sectionKeys are the array members rendered as their own tables, in order.
var sectionKeys = []string{"ports", "printers", "tunnels", "created", "present", "errors"}

// formatTableFromObject prints scalar members as a property table, then every
// known array member as its own titled table.
func (e *ToolExecutor) formatTableFromObject(data map[string]interface{}) error {
	scalars := make(map[string]interface{})
	for k, v := range data {
		if _, isArray := v.([]interface{}); isArray {
			continue
		}
		scalars[k] = v
	}

	if len(scalars) > 0 {
		if err := e.formatKeyValueTable(scalars); err != nil {
			return err
		}
	}

	for _, key := range sectionKeys {
		arr, ok := data[key].([]interface{})
		if !ok {
			continue
		}
		fmt.Fprintf(e.options.Out, "\n%s\n", text.FgHiBlue.Sprint(strings.ToUpper(key)))
		if err := e.formatTableFromArray(arr); err != nil {
			return err
		}
	}
	return nil
}

// formatTableFromArray creates a table from an array of objects
func (e *ToolExecutor) formatTableFromArray(data []interface{}) error {
	if len(data) == 0 {
		fmt.Fprintln(e.options.Out, text.FgYellow.Sprint("No items found"))
		return nil
	}

	firstObj, ok := data[0].(map[string]interface{})
	if !ok {
		return e.formatSimpleList(data)
	}

	columns := e.optimizeColumns(firstObj)

	t := e.newTable()
	headers := make(table.Row, len(columns))
	for i, col := range columns {
		headers[i] = text.FgHiCyan.Sprint(strings.ToUpper(col))
	}
	t.AppendHeader(headers)

	for _, item := range data {
		if itemMap, ok := item.(map[string]interface{}); ok {
			row := make(table.Row, len(columns))
			for i, col := range columns {
				row[i] = e.formatCellValue(col, itemMap[col])
			}
			t.AppendRow(row)
		}
	}

	t.Render()
	return nil
}

// priorityColumns picks readable columns per resource type.
var priorityColumns = map[string][]string{
	"ports":    {"service", "requested", "bound", "protocol"},
	"printers": {"name", "state", "connection", "is_default", "device_uri"},
	"tunnels":  {"provider", "state", "domain", "public_url", "restart_count", "last_error"},
}

// optimizeColumns determines the columns to show based on the data type
func (e *ToolExecutor) optimizeColumns(sample map[string]interface{}) []string {
	if priorities, exists := priorityColumns[e.detectResourceType(sample)]; exists {
		var columns []string
		for _, col := range priorities {
			if e.keyExists(sample, col) {
				columns = append(columns, col)
			}
		}
		return columns
	}

	var allKeys []string
	for key := range sample {
		allKeys = append(allKeys, key)
	}
	sort.Strings(allKeys)
	if len(allKeys) > 5 {
		return allKeys[:5]
	}
	return allKeys
}

// detectResourceType attempts to determine what type of resource this is
func (e *ToolExecutor) detectResourceType(sample map[string]interface{}) string {
	switch {
	case e.keyExists(sample, "bound") && e.keyExists(sample, "service"):
		return "ports"
	case e.keyExists(sample, "provider"):
		return "tunnels"
	case e.keyExists(sample, "connection"):
		return "printers"
	}
	return "generic"
}

// formatCellValue formats individual cell values with appropriate styling
func (e *ToolExecutor) formatCellValue(column string, value interface{}) interface{} {
	if value == nil {
		return text.FgHiBlack.Sprint("-")
	}

	if f, ok := value.(float64); ok {
		value = int64(f)
	}
	strValue := fmt.Sprintf("%v", value)
	if strValue == "" {
		return text.FgHiBlack.Sprint("-")
	}

	switch strings.ToLower(column) {
	case "state":
		return e.formatState(strValue)
	case "is_default":
		if b, ok := value.(bool); ok && b {
			return text.FgGreen.Sprint("yes")
		}
		return ""
	case "last_error":
		return text.FgRed.Sprint(truncate(strValue, 40))
	case "public_url", "device_uri":
		return strValue
	default:
		return truncate(strValue, 30)
	}
}

// formatState colours printer and tunnel states
func (e *ToolExecutor) formatState(state string) interface{} {
	switch strings.ToLower(state) {
	case "active", "idle":
		return text.FgGreen.Sprint(state)
	case "printing", "starting":
		return text.FgYellow.Sprint(state)
	case "degraded", "stopped":
		return text.FgHiYellow.Sprint(state)
	case "failed", "disabled":
		return text.FgRed.Sprint(state)
	case "unconfigured", "unknown", "none":
		return text.FgHiBlack.Sprint(state)
	default:
		return state
	}
}

// formatKeyValueTable formats an object as key-value pairs. Nested objects
// are flattened with dotted keys.
func (e *ToolExecutor) formatKeyValueTable(data map[string]interface{}) error {
	flat := make(map[string]interface{})
	flatten("", data, flat)

	t := e.newTable()
	t.AppendHeader(table.Row{
		text.FgHiCyan.Sprint("PROPERTY"),
		text.FgHiCyan.Sprint("VALUE"),
	})

	var keys []string
	for key := range flat {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		column := key
		if i := strings.LastIndex(key, "."); i >= 0 {
			column = key[i+1:]
		}
		t.AppendRow(table.Row{
			text.FgYellow.Sprint(key),
			e.formatCellValue(column, flat[key]),
		})
	}

	t.Render()
	return nil
}

// formatSimpleList formats an array of simple values
func (e *ToolExecutor) formatSimpleList(data []interface{}) error {
	for _, item := range data {
		fmt.Fprintln(e.options.Out, item)
	}
	return nil
}

func (e *ToolExecutor) newTable() table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(e.options.Out)
	t.SetStyle(table.StyleRounded)
	return t
}

func (e *ToolExecutor) keyExists(data map[string]interface{}, key string) bool {
	_, exists := data[key]
	return exists
}

func flatten(prefix string, in map[string]interface{}, out map[string]interface{}) {
	for k, v := range in {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := v.(map[string]interface{}); ok {
			flatten(key, nested, out)
			continue
		}
		out[key] = v
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
