package vardb

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/nxadm/tail"
)

// Watch follows the journal at path and calls fn for every record appended
// after the call, including records this process writes. A journal that does
// not exist yet is followed from its creation. It returns when ctx is done.
func Watch(ctx context.Context, path string, logger *log.Logger, fn func(Record)) error {
	logger = orDiscard(logger)
	cfg := tail.Config{
		Follow:    true,
		ReOpen:    true,
		MustExist: false,
		Logger:    tail.DiscardingLogger,
	}
	// a journal created after this call is read from its first line
	if _, err := os.Stat(path); err == nil {
		cfg.Location = &tail.SeekInfo{Offset: 0, Whence: io.SeekEnd}
	}
	t, err := tail.TailFile(path, cfg)
	if err != nil {
		return fmt.Errorf("follow journal: %w", err)
	}
	defer t.Cleanup()
	defer t.Stop()

	logger.Debug("following journal", "path", path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-t.Lines:
			if !ok {
				return t.Err()
			}
			if line.Err != nil {
				logger.Warn("journal read error", "path", path, "err", line.Err)
				continue
			}
			text := strings.TrimSpace(line.Text)
			if text == "" {
				continue
			}
			rec, err := ParseRecord(text)
			if err != nil {
				logger.Warn("skipping journal line", "path", path, "err", err)
				continue
			}
			fn(rec)
		}
	}
}
