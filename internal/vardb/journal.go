package vardb

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"stackview/internal/stack"

	"github.com/charmbracelet/log"
)

// Op is a journal record kind.
type Op string

const (
	OpDefine   Op = "define"
	OpUndefine Op = "undefine"
)

// Record is one line of the journal.
type Record struct {
	Op       Op        `json:"op"`
	Func     uint64    `json:"func"`
	FuncName string    `json:"func_name,omitempty"`
	Offset   int64     `json:"offset"`
	Size     int64     `json:"size,omitempty"`
	Name     string    `json:"name,omitempty"`
	Type     string    `json:"type,omitempty"`
	TypeSize int64     `json:"type_size,omitempty"`
	Time     time.Time `json:"time"`
}

func (r Record) variable() stack.Variable {
	return stack.Variable{
		Name:   r.Name,
		Offset: r.Offset,
		Size:   r.Size,
		Type:   stack.Type{Name: r.Type, Size: r.TypeSize},
	}
}

// funcState is the replayed state of one function: user definitions by
// offset and the offsets whose underlying variables were removed.
type funcState struct {
	defs  map[int64]stack.Variable
	tombs map[int64]bool
}

// Journal is an append-only JSON lines log of user variable edits for one
// binary. Every process editing the same binary appends to the same file;
// Reload picks up records written by others.
type Journal struct {
	path   string
	logger *log.Logger

	mu      sync.RWMutex
	funcs   map[uint64]*funcState
	size    int64
	skipped int
	// torn is set when the file ends without a newline, so the next
	// append must not run into the partial line.
	torn bool
}

// JournalPath returns <dataDir>/<binary>-<digest>.jsonl, keyed by the first
// twelve hex digits of the binary's SHA-256 so rebuilt binaries start fresh.
func JournalPath(dataDir, binary string) (string, error) {
	f, err := os.Open(binary)
	if err != nil {
		return "", fmt.Errorf("hash binary: %w", err)
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash binary: %w", err)
	}
	digest := hex.EncodeToString(h.Sum(nil))[:12]
	name := fmt.Sprintf("%s-%s.jsonl", filepath.Base(binary), digest)
	return filepath.Join(dataDir, name), nil
}

// OpenJournal replays the journal at path, creating the file and its
// directory when needed so followers can start before the first edit.
func OpenJournal(path string, logger *log.Logger) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create journal: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("create journal: %w", err)
	}
	j := &Journal{path: path, logger: orDiscard(logger), funcs: map[uint64]*funcState{}}
	if err := j.Reload(); err != nil {
		return nil, err
	}
	return j, nil
}

// Path returns the journal file.
func (j *Journal) Path() string { return j.path }

// Reload replays the journal file from the start. Lines that do not decode,
// such as one torn by a killed writer, are logged and skipped.
func (j *Journal) Reload() error {
	data, err := os.ReadFile(j.path)
	if errors.Is(err, os.ErrNotExist) {
		data, err = nil, nil
	}
	if err != nil {
		return fmt.Errorf("read journal: %w", err)
	}

	funcs := map[uint64]*funcState{}
	skipped := 0
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for n := 1; sc.Scan(); n++ {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		rec, err := ParseRecord(line)
		if err != nil {
			orDiscard(j.logger).Warn("skipping journal line", "path", j.path, "line", n, "err", err)
			skipped++
			continue
		}
		apply(funcs, rec)
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("scan journal: %w", err)
	}

	j.mu.Lock()
	j.funcs = funcs
	j.size = int64(len(data))
	j.skipped = skipped
	j.torn = len(data) > 0 && data[len(data)-1] != '\n'
	j.mu.Unlock()
	return nil
}

// ParseRecord decodes one journal line.
func ParseRecord(line string) (Record, error) {
	var rec Record
	if err := json.Unmarshal([]byte(line), &rec); err != nil {
		return Record{}, fmt.Errorf("decode record: %w", err)
	}
	switch rec.Op {
	case OpDefine:
		if rec.Size <= 0 {
			return Record{}, fmt.Errorf("define at %d: %w", rec.Offset, stack.ErrInvalidSize)
		}
	case OpUndefine:
	default:
		return Record{}, fmt.Errorf("unknown op %q", rec.Op)
	}
	return rec, nil
}

func apply(funcs map[uint64]*funcState, rec Record) {
	st := funcs[rec.Func]
	if st == nil {
		st = &funcState{defs: map[int64]stack.Variable{}, tombs: map[int64]bool{}}
		funcs[rec.Func] = st
	}
	switch rec.Op {
	case OpDefine:
		st.defs[rec.Offset] = rec.variable()
	case OpUndefine:
		delete(st.defs, rec.Offset)
		st.tombs[rec.Offset] = true
	}
}

// Append writes rec and syncs it to disk before applying it.
func (j *Journal) Append(rec Record) error {
	if rec.Time.IsZero() {
		rec.Time = time.Now().UTC()
	}
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	line = append(line, '\n')

	j.mu.Lock()
	defer j.mu.Unlock()

	if j.torn {
		line = append([]byte{'\n'}, line...)
	}
	f, err := os.OpenFile(j.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	if _, err := f.Write(line); err != nil {
		f.Close()
		return fmt.Errorf("write journal: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync journal: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close journal: %w", err)
	}
	apply(j.funcs, rec)
	j.size += int64(len(line))
	j.torn = false
	return nil
}

// Definitions returns the user definitions and removed offsets of the
// function at addr.
func (j *Journal) Definitions(addr uint64) (defs []stack.Variable, tombs map[int64]bool) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	tombs = map[int64]bool{}
	st := j.funcs[addr]
	if st == nil {
		return nil, tombs
	}
	for _, v := range st.defs {
		defs = append(defs, v)
	}
	for off := range st.tombs {
		tombs[off] = true
	}
	return defs, tombs
}

// Skipped returns the number of lines the last replay could not decode.
func (j *Journal) Skipped() int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.skipped
}

// Size returns the number of journal bytes replayed or appended by this
// process.
func (j *Journal) Size() int64 {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.size
}
