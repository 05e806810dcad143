package cli

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"labelctl/internal/api"
)

func TestParseOutputFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    OutputFormat
		wantErr bool
	}{
		{in: "", want: OutputFormatTable},
		{in: "table", want: OutputFormatTable},
		{in: "JSON", want: OutputFormatJSON},
		{in: "yaml", want: OutputFormatYAML},
		{in: "xml", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseOutputFormat(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExecuteStatusFormats(t *testing.T) {
	t.Run("table", func(t *testing.T) {
		e, out := newExecutor(t, OutputFormatTable)
		require.NoError(t, e.Execute(context.Background(), api.ToolStatus, nil))

		s := out.String()
		assert.Contains(t, s, "PROPERTY")
		assert.Contains(t, s, "printer.name")
		assert.Contains(t, s, "ZTC-GK420d")
		assert.Contains(t, s, "PORTS")
		assert.Contains(t, s, "5001")
		assert.Contains(t, s, "TUNNELS")
		assert.Contains(t, s, "https://a-b.trycloudflare.com")
	})

	t.Run("yaml", func(t *testing.T) {
		e, out := newExecutor(t, OutputFormatYAML)
		require.NoError(t, e.Execute(context.Background(), api.ToolStatus, nil))

		s := out.String()
		assert.Contains(t, s, "printer:")
		assert.Contains(t, s, "name: ZTC-GK420d")
		assert.Contains(t, s, "public_url: https://a-b.trycloudflare.com")
	})

	t.Run("json", func(t *testing.T) {
		e, out := newExecutor(t, OutputFormatJSON)
		require.NoError(t, e.Execute(context.Background(), api.ToolStatus, nil))
		assert.Contains(t, out.String(), `"bound": 5001`)
	})
}

func TestExecuteTunnelListTable(t *testing.T) {
	e, out := newExecutor(t, OutputFormatTable)
	require.NoError(t, e.Execute(context.Background(), api.ToolTunnelList, nil))

	s := out.String()
	assert.Contains(t, s, "PROVIDER")
	assert.Contains(t, s, "ngrok")
	assert.Contains(t, s, "FAILED")
	assert.Contains(t, s, "ngrok exited during startup")
}

func TestRenderTables(t *testing.T) {
	tests := []struct {
		name     string
		data     string
		contains []string
		absent   []string
	}{
		{
			name:     "empty list",
			data:     `[]`,
			contains: []string{"No items found"},
		},
		{
			name:     "ports use priority columns",
			data:     `[{"service":"api","requested":5000,"bound":5001,"protocol":"tcp","checked":"x"}]`,
			contains: []string{"SERVICE", "REQUESTED", "BOUND", "PROTOCOL", "5001"},
			absent:   []string{"CHECKED"},
		},
		{
			name:     "printers",
			data:     `[{"name":"ZTC-GK420d","state":"idle","connection":"USB","is_default":true}]`,
			contains: []string{"NAME", "CONNECTION", "USB", "yes"},
		},
		{
			name:     "simple values",
			data:     `["a","b"]`,
			contains: []string{"a\nb\n"},
		},
		{
			name:     "not json",
			data:     `Removed printer 'x'`,
			contains: []string{"Removed printer 'x'"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			e := NewToolExecutorWithClient(NewCLIClientWithEndpoint("http://unused/mcp"), ExecutorOptions{Out: &out})
			require.NoError(t, e.Render(tt.data))
			for _, want := range tt.contains {
				assert.Contains(t, out.String(), want)
			}
			for _, unwanted := range tt.absent {
				assert.NotContains(t, out.String(), unwanted)
			}
		})
	}
}
