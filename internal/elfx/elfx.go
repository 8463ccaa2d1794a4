// Package elfx opens ELF binaries, maps them into memory and resolves
// virtual addresses, function symbols and debug information.
package elfx

import (
	"debug/dwarf"
	"debug/elf"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"syscall"
)

// ErrNoDWARF is returned by DWARF when the image carries no debug info.
var ErrNoDWARF = errors.New("no DWARF debug info")

type Image struct {
	Path    string
	File    *elf.File
	All     []byte
	Loads   []Seg
	Text    Section
	Symbols []Symbol
	f       *os.File

	byName map[string]int
}

type Seg struct {
	Vaddr, Off, Filesz uint64
	Flags              elf.ProgFlag
}

type Section struct {
	Name          string
	VA, Off, Size uint64
}

// Symbol is a defined function symbol from .symtab or .dynsym.
type Symbol struct {
	Name    string
	Addr    uint64
	Size    uint64
	Dynamic bool
}

// End returns the address one past the symbol, or Addr when the size is
// unknown.
func (s Symbol) End() uint64 { return s.Addr + s.Size }

func Open(path string) (*Image, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open elf: %w", err)
	}
	if f.Machine != elf.EM_AARCH64 {
		f.Close()
		return nil, fmt.Errorf("open elf: unsupported machine %s", f.Machine)
	}

	of, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("open file: %w", err)
	}

	fi, err := of.Stat()
	if err != nil {
		of.Close()
		f.Close()
		return nil, fmt.Errorf("stat file: %w", err)
	}

	all, err := syscall.Mmap(int(of.Fd()), 0, int(fi.Size()), syscall.PROT_READ, syscall.MAP_SHARED)
	if err != nil {
		of.Close()
		f.Close()
		return nil, fmt.Errorf("mmap file: %w", err)
	}

	im := &Image{Path: path, File: f, All: all, f: of}
	for _, p := range f.Progs {
		if p.Type != elf.PT_LOAD {
			continue
		}
		im.Loads = append(im.Loads, Seg{
			Vaddr:  p.Vaddr,
			Off:    p.Off,
			Filesz: p.Filesz,
			Flags:  p.Flags,
		})
	}

	if s := f.Section(".text"); s != nil {
		im.Text = Section{s.Name, s.Addr, s.Offset, s.Size}
	} else {
		// stripped section headers
		for _, l := range im.Loads {
			if l.Flags&elf.PF_X != 0 && l.Filesz > 0 {
				im.Text = Section{"LOAD(exec)", l.Vaddr, l.Off, l.Filesz}
				break
			}
		}
	}

	im.loadSymbols()
	return im, nil
}

// Close unmaps the memory and closes the underlying files.
func (im *Image) Close() error {
	var err1, err2 error
	if im.All != nil {
		err1 = syscall.Munmap(im.All)
		im.All = nil
	}
	if im.f != nil {
		err2 = im.f.Close()
		im.f = nil
	}
	if im.File != nil {
		if err3 := im.File.Close(); err3 != nil && err2 == nil {
			err2 = err3
		}
		im.File = nil
	}
	if err1 != nil {
		return err1
	}
	return err2
}

// VA2Off translates a virtual address into a file offset
// using PT_LOAD segments. It returns false if VA is unmapped.
func (im *Image) VA2Off(va uint64) (uint64, bool) {
	for _, l := range im.Loads {
		if va >= l.Vaddr && va < l.Vaddr+l.Filesz {
			return l.Off + (va - l.Vaddr), true
		}
	}
	return 0, false
}

// SliceVA returns a subslice of the mapped file corresponding to the virtual address range [va, va+size).
// It returns (nil, false) if the VA is unmapped or the range is out of bounds.
func (im *Image) SliceVA(va uint64, size uint64) ([]byte, bool) {
	off, ok := im.VA2Off(va)
	if !ok {
		return nil, false
	}
	if size == 0 {
		return []byte{}, true
	}
	end := off + size
	if end > uint64(len(im.All)) {
		return nil, false
	}
	return im.All[off:end], true
}

// ReadBytesVA reads exactly size bytes from a virtual address.
func (im *Image) ReadBytesVA(va uint64, size int) ([]byte, bool) {
	if size <= 0 {
		return []byte{}, true
	}
	return im.SliceVA(va, uint64(size))
}

// InText reports whether va lies in the executable text region.
func (im *Image) InText(va uint64) bool {
	return im.Text.Size != 0 && va >= im.Text.VA && va < im.Text.VA+im.Text.Size
}

// loadSymbols collects defined FUNC symbols from .symtab and .dynsym,
// keeping one entry per address with the static name preferred.
func (im *Image) loadSymbols() {
	seen := map[uint64]bool{}
	add := func(syms []elf.Symbol, dynamic bool) {
		for _, sym := range syms {
			if elf.ST_TYPE(sym.Info) != elf.STT_FUNC || sym.Value == 0 || sym.Section == elf.SHN_UNDEF {
				continue
			}
			if strings.HasSuffix(sym.Name, "@plt") || seen[sym.Value] {
				continue
			}
			seen[sym.Value] = true
			im.Symbols = append(im.Symbols, Symbol{
				Name:    sym.Name,
				Addr:    sym.Value,
				Size:    sym.Size,
				Dynamic: dynamic,
			})
		}
	}

	if syms, err := im.File.Symbols(); err == nil {
		add(syms, false)
	}
	if syms, err := im.File.DynamicSymbols(); err == nil {
		add(syms, true)
	}

	sort.Slice(im.Symbols, func(i, j int) bool { return im.Symbols[i].Addr < im.Symbols[j].Addr })
	im.byName = make(map[string]int, len(im.Symbols))
	for i, s := range im.Symbols {
		if _, dup := im.byName[s.Name]; !dup {
			im.byName[s.Name] = i
		}
	}
}

// FindFunctionByName returns the function symbol called name.
func (im *Image) FindFunctionByName(name string) (Symbol, bool) {
	i, ok := im.byName[name]
	if !ok {
		return Symbol{}, false
	}
	return im.Symbols[i], true
}

// FunctionAt returns the function symbol whose extent contains va. A symbol
// without a size only matches its own address.
func (im *Image) FunctionAt(va uint64) (Symbol, bool) {
	i := sort.Search(len(im.Symbols), func(i int) bool { return im.Symbols[i].Addr > va }) - 1
	if i < 0 {
		return Symbol{}, false
	}
	s := im.Symbols[i]
	if va == s.Addr || va < s.End() {
		return s, true
	}
	return Symbol{}, false
}

// DWARF returns the parsed debug info of the image.
func (im *Image) DWARF() (*dwarf.Data, error) {
	if im.File.Section(".debug_info") == nil {
		return nil, ErrNoDWARF
	}
	d, err := im.File.DWARF()
	if err != nil {
		return nil, fmt.Errorf("read dwarf: %w", err)
	}
	return d, nil
}
