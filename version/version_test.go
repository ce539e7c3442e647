package version

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/teranos/treesync/transport"
)

func TestString(t *testing.T) {
	tests := []struct {
		name string
		info Info
		want string
	}{
		{
			name: "dev build",
			info: Info{Version: "dev", CommitHash: "dev", BuildTime: "unknown", Protocol: "1.0.0", Accepts: "^1"},
			want: "treesync dev protocol 1.0.0 (accepts ^1), built unknown",
		},
		{
			name: "tagged build",
			info: Info{Version: "v0.3.0", CommitHash: "abcdef123456", BuildTime: "2026-10-18", Protocol: "1.0.0", Accepts: "^1"},
			want: "treesync v0.3.0+abcdef1 protocol 1.0.0 (accepts ^1), built 2026-10-18",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.info.String())
		})
	}
}

func TestGetReportsProtocol(t *testing.T) {
	info := Get()
	assert.Equal(t, transport.ProtocolVersion, info.Protocol)
	assert.Equal(t, transport.CompatibleVersions, info.Accepts)
	assert.NoError(t, transport.CheckVersion(info.Protocol))
	assert.NotEmpty(t, info.GoVersion)
}
