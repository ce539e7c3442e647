// Package version reports build metadata together with the wire protocol
// this binary speaks, so two peers can be checked for compatibility
// without connecting them.
package version

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/teranos/treesync/transport"
)

// Set at build time via -ldflags "-X github.com/teranos/treesync/version.Version=...".
var (
	Version    = "dev"
	CommitHash = "dev"
	BuildTime  = "unknown"
)

// Info is what `treesync version --json` and /health report
type Info struct {
	Version    string `json:"version"`
	CommitHash string `json:"commit_hash"`
	BuildTime  string `json:"build_time"`
	Protocol   string `json:"protocol"`
	Accepts    string `json:"accepts"`
	GoVersion  string `json:"go_version"`
	Platform   string `json:"platform"`
}

// Get returns the running binary's information
func Get() Info {
	return Info{
		Version:    Version,
		CommitHash: CommitHash,
		BuildTime:  BuildTime,
		Protocol:   transport.ProtocolVersion,
		Accepts:    transport.CompatibleVersions,
		GoVersion:  runtime.Version(),
		Platform:   runtime.GOOS + "/" + runtime.GOARCH,
	}
}

// String renders e.g. "treesync dev+abcdef1 protocol 1.0.0 (accepts ^1), built unknown"
func (i Info) String() string {
	var b strings.Builder
	b.WriteString("treesync ")
	b.WriteString(i.Version)
	if i.CommitHash != "" && i.CommitHash != i.Version {
		b.WriteString("+")
		b.WriteString(shortHash(i.CommitHash))
	}
	fmt.Fprintf(&b, " protocol %s (accepts %s), built %s", i.Protocol, i.Accepts, i.BuildTime)
	return b.String()
}

func shortHash(h string) string {
	if len(h) > 7 {
		return h[:7]
	}
	return h
}
