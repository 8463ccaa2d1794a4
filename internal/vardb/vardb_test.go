package vardb

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"stackview/internal/analysis"
	"stackview/internal/stack"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testFn = &stack.Function{Name: "handler", Addr: 0x1000, FrameSize: 32}

type staticSource struct {
	vars []stack.Variable
	err  error
}

func (s staticSource) StackVariables(*stack.Function) ([]stack.Variable, error) {
	return append([]stack.Variable(nil), s.vars...), s.err
}

func (s staticSource) DefineVariable(*stack.Function, stack.Variable) error { return ErrReadOnly }
func (s staticSource) UndefineVariable(*stack.Function, int64) error        { return ErrReadOnly }

func variable(name string, offset, size int64) stack.Variable {
	return stack.Variable{Name: name, Offset: offset, Size: size, Type: stack.PrimitiveType(size)}
}

func openJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := OpenJournal(filepath.Join(t.TempDir(), "data", "bin-000000000000.jsonl"), nil)
	require.NoError(t, err)
	return j
}

func offsets(vars []stack.Variable) []int64 {
	var out []int64
	for _, v := range vars {
		out = append(out, v.Offset)
	}
	return out
}

func TestSLEB128(t *testing.T) {
	testCases := []struct {
		name  string
		in    []byte
		want  int64
		width int
	}{
		{"zero", []byte{0x00}, 0, 1},
		{"two", []byte{0x02}, 2, 1},
		{"minus two", []byte{0x7e}, -2, 1},
		{"127", []byte{0xff, 0x00}, 127, 2},
		{"minus 128", []byte{0x80, 0x7f}, -128, 2},
		{"minus 20", []byte{0x6c}, -20, 1},
		{"trailing bytes ignored", []byte{0x6c, 0x01}, -20, 1},
		{"truncated", []byte{0x80}, 0, 0},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, n := sleb128(tc.in)
			assert.Equal(t, tc.want, got)
			assert.Equal(t, tc.width, n)
		})
	}
}

func TestLocationExpressions(t *testing.T) {
	off, ok := fbregOffset([]byte{opFbreg, 0x6c})
	require.True(t, ok)
	assert.Equal(t, int64(-20), off)

	_, ok = fbregOffset([]byte{opFbreg, 0x6c, 0x00})
	assert.False(t, ok, "trailing operations are not a plain fbreg")
	_, ok = fbregOffset([]byte{0x03, 0, 0, 0, 0, 0, 0, 0, 0})
	assert.False(t, ok, "DW_OP_addr is not a stack location")

	reg, add, ok := parseFrameBase([]byte{opCallFrameCFA})
	require.True(t, ok)
	assert.Equal(t, -1, reg)
	assert.Zero(t, add)

	reg, add, ok = parseFrameBase([]byte{opReg0 + regFP})
	require.True(t, ok)
	assert.Equal(t, regFP, reg)
	assert.Zero(t, add)

	reg, add, ok = parseFrameBase([]byte{opBreg0 + regSP, 0x10})
	require.True(t, ok)
	assert.Equal(t, regSP, reg)
	assert.Equal(t, int64(16), add)

	_, _, ok = parseFrameBase(nil)
	assert.False(t, ok)
}

func TestAnalysisSource(t *testing.T) {
	frame := &analysis.Frame{
		Size: 32,
		Slots: []analysis.Slot{
			{Offset: -32, Size: 8, Saved: "x29"},
			{Offset: -24, Size: 8, Saved: "x30"},
			{Offset: -16, Size: 8},
			{Offset: -4, Size: 4},
		},
	}
	scans := 0
	src := &AnalysisSource{
		scan: func(addr uint64) (*analysis.Frame, error) {
			scans++
			if addr != testFn.Addr {
				return nil, errors.New("unknown function")
			}
			return frame, nil
		},
		logger: orDiscard(nil),
		frames: map[uint64]*analysis.Frame{},
	}

	vars, err := src.StackVariables(testFn)
	require.NoError(t, err)
	require.Len(t, vars, 4)
	assert.Equal(t, "__saved_x29", vars[0].Name)
	assert.Equal(t, "var_10", vars[2].Name)
	assert.Equal(t, "int64_t", vars[2].Type.Name)
	assert.Equal(t, "int32_t", vars[3].Type.Name)

	_, err = src.StackVariables(testFn)
	require.NoError(t, err)
	assert.Equal(t, 1, scans, "frames are cached")

	fn := src.Function(analysis.Function{Demangled: "ns::handler()"})
	assert.Equal(t, "ns::handler()", fn.Name)
	assert.Zero(t, fn.FrameSize)

	assert.ErrorIs(t, src.DefineVariable(testFn, variable("x", -8, 8)), ErrReadOnly)
}

func TestJournalPath(t *testing.T) {
	dir := t.TempDir()
	bin := filepath.Join(dir, "libgame.so")
	require.NoError(t, os.WriteFile(bin, []byte("not really an elf"), 0o644))

	p, err := JournalPath(filepath.Join(dir, "data"), bin)
	require.NoError(t, err)

	base := filepath.Base(p)
	assert.Regexp(t, `^libgame\.so-[0-9a-f]{12}\.jsonl$`, base)

	again, err := JournalPath(filepath.Join(dir, "data"), bin)
	require.NoError(t, err)
	assert.Equal(t, p, again)

	require.NoError(t, os.WriteFile(bin, []byte("rebuilt"), 0o644))
	changed, err := JournalPath(filepath.Join(dir, "data"), bin)
	require.NoError(t, err)
	assert.NotEqual(t, p, changed)
}

func TestJournalReplay(t *testing.T) {
	j := openJournal(t)

	require.NoError(t, j.Append(Record{Op: OpDefine, Func: 0x1000, Offset: -16, Size: 8, Name: "buf", Type: "char[8]", TypeSize: 8}))
	require.NoError(t, j.Append(Record{Op: OpDefine, Func: 0x1000, Offset: -4, Size: 4, Name: "n", Type: "int"}))
	require.NoError(t, j.Append(Record{Op: OpDefine, Func: 0x1000, Offset: -16, Size: 8, Name: "renamed", Type: "char[8]"}))
	require.NoError(t, j.Append(Record{Op: OpUndefine, Func: 0x1000, Offset: -4}))
	require.NoError(t, j.Append(Record{Op: OpDefine, Func: 0x2000, Offset: -8, Size: 8, Name: "other"}))

	reopened, err := OpenJournal(j.Path(), nil)
	require.NoError(t, err)

	for _, jj := range []*Journal{j, reopened} {
		defs, tombs := jj.Definitions(0x1000)
		require.Len(t, defs, 1)
		assert.Equal(t, "renamed", defs[0].Name)
		assert.True(t, tombs[-4])

		defs, _ = jj.Definitions(0x2000)
		assert.Len(t, defs, 1)
	}
	assert.Equal(t, j.Size(), reopened.Size())
}

func TestJournalSkipsCorruptLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(`{"op":"define","func":1,"offset":-8,"size":8}`+"\n"+`{"op":"rename"}`+"\n"), 0o644))

	j, err := OpenJournal(path, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, j.Skipped())
	defs, _ := j.Definitions(1)
	assert.Len(t, defs, 1)

	_, err = ParseRecord(`{"op":"define","func":1,"offset":-8}`)
	assert.ErrorIs(t, err, stack.ErrInvalidSize)
}

func TestJournalTornTrailingLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bin-abc.jsonl")
	valid := `{"op":"define","func":1,"offset":-8,"size":8,"name":"a"}` + "\n"
	torn := `{"op":"define","func":1,"offset":-16,"si`
	require.NoError(t, os.WriteFile(path, []byte(valid+torn), 0o644))

	j, err := OpenJournal(path, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, j.Skipped())

	// the next record starts on its own line instead of extending the torn one
	require.NoError(t, j.Append(Record{Op: OpDefine, Func: 1, Offset: -24, Size: 8, Name: "b"}))
	reopened, err := OpenJournal(path, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, reopened.Skipped())
	defs, _ := reopened.Definitions(1)
	assert.ElementsMatch(t, []int64{-8, -24}, offsets(defs))
}

func TestOpenJournalCreatesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "new.jsonl")
	_, err := OpenJournal(path, nil)
	require.NoError(t, err)
	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestOverlay(t *testing.T) {
	base := staticSource{vars: []stack.Variable{
		variable("__saved_x29", -32, 8),
		variable("var_18", -24, 8),
		variable("var_10", -16, 8),
		variable("var_4", -4, 4),
	}}

	t.Run("base only", func(t *testing.T) {
		o := &Overlay{Base: base, Journal: openJournal(t)}
		vars, err := o.StackVariables(testFn)
		require.NoError(t, err)
		assert.Equal(t, []int64{-32, -24, -16, -4}, offsets(vars))
	})

	t.Run("definition shadows overlapped base variables", func(t *testing.T) {
		o := &Overlay{Base: base, Journal: openJournal(t)}
		require.NoError(t, o.DefineVariable(testFn, stack.Variable{Name: "buf", Offset: -24, Size: 16, Type: stack.Type{Name: "char[16]", Size: 16}}))

		vars, err := o.StackVariables(testFn)
		require.NoError(t, err)
		assert.Equal(t, []int64{-32, -24, -4}, offsets(vars))
		assert.Equal(t, "buf", vars[1].Name)
	})

	t.Run("undefine hides base variable", func(t *testing.T) {
		o := &Overlay{Base: base, Journal: openJournal(t)}
		require.NoError(t, o.UndefineVariable(testFn, -16))

		vars, err := o.StackVariables(testFn)
		require.NoError(t, err)
		assert.Equal(t, []int64{-32, -24, -4}, offsets(vars))

		assert.ErrorIs(t, o.UndefineVariable(testFn, -16), stack.ErrNoVariable)
	})

	t.Run("redefining after undefine", func(t *testing.T) {
		o := &Overlay{Base: base, Journal: openJournal(t)}
		require.NoError(t, o.UndefineVariable(testFn, -4))
		require.NoError(t, o.DefineVariable(testFn, variable("flags", -4, 2)))

		vars, err := o.StackVariables(testFn)
		require.NoError(t, err)
		assert.Equal(t, "flags", vars[len(vars)-1].Name)
		assert.Equal(t, int64(2), vars[len(vars)-1].Size)
	})

	t.Run("failing base leaves journal definitions", func(t *testing.T) {
		o := &Overlay{Base: staticSource{err: errors.New("no symbol")}, Journal: openJournal(t)}
		require.NoError(t, o.DefineVariable(testFn, variable("x", -8, 8)))

		vars, err := o.StackVariables(testFn)
		require.NoError(t, err)
		assert.Equal(t, []int64{-8}, offsets(vars))
	})

	t.Run("rejects empty definitions", func(t *testing.T) {
		o := &Overlay{Journal: openJournal(t)}
		assert.ErrorIs(t, o.DefineVariable(testFn, variable("x", -8, 0)), stack.ErrInvalidSize)
	})
}

func TestOverlayDrivesMutator(t *testing.T) {
	o := &Overlay{Base: staticSource{vars: []stack.Variable{variable("var_8", -8, 8)}}, Journal: openJournal(t)}
	view := stack.NewView(&stack.Builder{Source: o, Range: stack.Range{Low: -32, High: 0}}, stack.CellMetrics(), nil)
	view.Bind(testFn)
	m := stack.NewMutator(view)

	require.NoError(t, m.QuickCreateVariable(-24, 4))
	assert.ErrorIs(t, m.QuickCreateVariable(-12, 8), stack.ErrOverlap)
	require.NoError(t, m.DeleteVariable(-8))

	reopened, err := OpenJournal(o.Journal.Path(), nil)
	require.NoError(t, err)
	again := &Overlay{Base: o.Base, Journal: reopened}
	vars, err := again.StackVariables(testFn)
	require.NoError(t, err)
	assert.Equal(t, []int64{-24}, offsets(vars))
}

func TestFallback(t *testing.T) {
	first := staticSource{err: ErrNoDebugInfo}
	second := staticSource{vars: []stack.Variable{variable("a", -8, 8)}}

	vars, err := Fallback{first, second}.StackVariables(testFn)
	require.NoError(t, err)
	assert.Len(t, vars, 1)

	_, err = Fallback{first, staticSource{err: errors.New("scan failed")}}.StackVariables(testFn)
	assert.ErrorIs(t, err, ErrNoDebugInfo)
	assert.ErrorContains(t, err, "scan failed")

	assert.ErrorIs(t, Fallback{second}.DefineVariable(testFn, variable("a", -8, 8)), ErrReadOnly)
}

func TestWatch(t *testing.T) {
	j := openJournal(t)
	require.NoError(t, j.Append(Record{Op: OpDefine, Func: 0x1000, Offset: -8, Size: 8, Name: "before"}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan Record, 16)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, j.Path(), nil, func(r Record) { got <- r })
	}()

	// the follower starts at the end of the file, so keep appending until
	// one lands after it is positioned
	deadline := time.After(10 * time.Second)
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case r := <-got:
			assert.Equal(t, "after", r.Name)
			cancel()
			require.NoError(t, <-done)
			return
		case <-tick.C:
			require.NoError(t, j.Append(Record{Op: OpDefine, Func: 0x1000, Offset: -16, Size: 8, Name: "after"}))
		case <-deadline:
			t.Fatal("no record observed")
		}
	}
}

func TestWatchJournalCreatedLater(t *testing.T) {
	path := filepath.Join(t.TempDir(), "later.jsonl")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan Record, 16)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, nil, func(r Record) { got <- r })
	}()
	// let the follower start against the missing file
	time.Sleep(200 * time.Millisecond)

	j, err := OpenJournal(path, nil)
	require.NoError(t, err)
	require.NoError(t, j.Append(Record{Op: OpDefine, Func: 0x1000, Offset: -8, Size: 8, Name: "first"}))

	select {
	case r := <-got:
		assert.Equal(t, "first", r.Name)
	case <-time.After(10 * time.Second):
		t.Fatal("first record of a new journal was not observed")
	}
	cancel()
	require.NoError(t, <-done)
}
