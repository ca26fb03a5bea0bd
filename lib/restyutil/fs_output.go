package restyutil

import (
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
)

// the status poller sends several requests a second, dumps past this are dropped
const defaultMaxDumps = 2000

// FilesystemOutput writes each request/response pair to <dir>/<id>.http.
// the directory is emptied when the output is created.
type FilesystemOutput struct {
	directory string
	maxDumps  int64
	written   *atomic.Int64
}

func NewFilesystemOutput(dir string) (FilesystemOutput, error) {
	err := os.RemoveAll(dir)
	if err != nil {
		return FilesystemOutput{}, err
	}
	err = os.MkdirAll(dir, 0777)
	if err != nil {
		return FilesystemOutput{}, err
	}
	return FilesystemOutput{
		directory: dir,
		maxDumps:  defaultMaxDumps,
		written:   &atomic.Int64{},
	}, nil
}

// WithLimit returns a copy of the output that stops writing after n dumps.
func (o FilesystemOutput) WithLimit(n int) FilesystemOutput {
	o.maxDumps = int64(n)
	return o
}

func (o FilesystemOutput) Write(id string, contents string) {
	count := o.written.Add(1)
	if o.maxDumps > 0 && count > o.maxDumps {
		if count == o.maxDumps+1 {
			slog.Warn("http dump limit reached, later messages are not written", "dir", o.directory, "limit", o.maxDumps)
		}
		return
	}
	err := os.WriteFile(filepath.Join(o.directory, id+".http"), []byte(contents), 0600)
	if err != nil {
		slog.Warn("failed to write message info file", "id", id, "err", err)
	}
}
