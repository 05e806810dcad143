package tunnel

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"labelctl/internal/errdefs"
)

func TestNormalizeDomain(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "print.example.com", want: "print.example.com"},
		{in: "  Print.Example.COM ", want: "print.example.com"},
		{in: "UPPERCASE.COM", want: "uppercase.com"},
		{in: "a-b.example.io", want: "a-b.example.io"},
		{in: "zebra1.example.com.", want: "zebra1.example.com"},
		{in: "", wantErr: true},
		{in: "   ", wantErr: true},
		{in: "invalid", wantErr: true},
		{in: "domain with spaces.com", wantErr: true},
		{in: "domain..com", wantErr: true},
		{in: "-lead.example.com", wantErr: true},
		{in: "trail-.example.com", wantErr: true},
		{in: "example.c", wantErr: true},
		{in: "example.c0m", wantErr: true},
		{in: "https://example.com", wantErr: true},
		{in: "under_score.example.com", wantErr: true},
		{in: strings.Repeat("a", 64) + ".com", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := NormalizeDomain(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errdefs.IsValidation(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
