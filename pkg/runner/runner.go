package runner

import (
	"bytes"
	"io"
	"os"

	"github.com/dimiro1/banner"
)

// Version is stamped at build time via -ldflags.
var Version = "dev"

// Drainer finishes in-flight work before shutdown. The interpretation pool
// implements it by gracefully closing its sessions and flushing the
// recording.
type Drainer interface {
	Drain() error
}

// Hooks run at the edges of the runner lifecycle.
type Hooks struct {
	OnStart func()
	OnStop  func()
}

// PrintBanner writes the startup banner, to stdout when w is nil.
func PrintBanner(w io.Writer) {
	if w == nil {
		w = os.Stdout
	}
	tpl := "{{ .Title \"TEU-IM\" \"\" 0 }}\nVersion: " + Version + "\n"
	banner.Init(w, true, true, bytes.NewBufferString(tpl))
}
