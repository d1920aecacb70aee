package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/pkg/errors"
	"github.com/xyproto/env/v2"

	loadstone "github.com/strandos/loadstone"
	"github.com/strandos/loadstone/exec"
	"github.com/strandos/loadstone/loader"
	"github.com/strandos/loadstone/mem"
	"github.com/strandos/loadstone/models"
)

type strslice []string

func (s *strslice) String() string {
	return fmt.Sprintf("%v", *s)
}

func (s *strslice) Set(value string) error {
	*s = append(*s, value)
	return nil
}

type stackTracer interface {
	StackTrace() errors.StackTrace
}

func printError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %s\n", err)
	if err, ok := err.(stackTracer); ok {
		for _, f := range err.StackTrace() {
			fmt.Fprintf(os.Stderr, "  %s:%d %n()\n", f, f, f)
		}
	}
}

func isBundle(b []byte) bool {
	return len(b) >= 4 && string(b[:4]) == "LSAR"
}

func run() error {
	fs := flag.NewFlagSet("loadstone", flag.ExitOnError)
	abiPath := fs.String("abi", env.Str("LOADSTONE_ABI"), "ABI table file (name 0xADDR per line)")
	host := fs.Bool("host", env.Bool("LOADSTONE_HOST"), "map real executable pages instead of an arena")
	arenaBase := fs.Uint64("arena-base", 0x10000, "arena base address")
	arenaSize := fs.Uint64("arena-size", uint64(env.Int("LOADSTONE_ARENA_SIZE", 64<<20)), "arena size in bytes")
	entry := fs.String("run", "", "call this export after loading (host mode only)")
	verbose := fs.Bool("v", false, "print segments and exports")
	var callArgs strslice
	fs.Var(&callArgs, "arg", "integer argument for -run (repeatable)")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options] <object.o|bundle.lsar>...\n", os.Args[0])
		fs.PrintDefaults()
	}
	fs.Parse(os.Args[1:])
	if fs.NArg() == 0 {
		fs.Usage()
		os.Exit(1)
	}

	var abi *models.ABITable
	if *abiPath != "" {
		var err error
		if abi, err = loadstone.ParseABIFile(*abiPath); err != nil {
			return err
		}
	}

	var mapper mem.Mapper
	if *host {
		var err error
		if mapper, err = mem.NewHostMap(); err != nil {
			return err
		}
	} else {
		var err error
		if mapper, err = mem.NewArena(*arenaBase, *arenaSize, 0x1000); err != nil {
			return err
		}
	}
	s := loadstone.NewSession(mapper, abi)
	defer s.Close()

	// bundles load as their own batch; loose objects form one batch
	var inputs []loadstone.Input
	var mods []*loadstone.Module
	for _, path := range fs.Args() {
		data, err := os.ReadFile(path)
		if err != nil {
			return errors.Wrap(err, "failed to read input")
		}
		switch {
		case isBundle(data):
			f, err := os.Open(path)
			if err != nil {
				return err
			}
			m, err := s.LoadBundle(f)
			f.Close()
			if err != nil {
				return err
			}
			mods = append(mods, m...)
		case loader.MatchObject(data):
			inputs = append(inputs, loadstone.Input{Name: path, Data: data})
		default:
			return &models.MalformedObjectError{Object: path, Reason: "not an object file or bundle"}
		}
	}
	if len(inputs) > 0 {
		m, err := s.Load(inputs)
		if err != nil {
			return err
		}
		mods = append(mods, m...)
	}

	for _, m := range mods {
		fmt.Println(m)
		if *verbose {
			for _, e := range m.Exports {
				fmt.Printf("  %#x %s\n", e.Addr, e.Name)
			}
		}
	}

	if *entry != "" {
		if !*host {
			return errors.New("-run requires -host (arena addresses are not executable)")
		}
		e, ok := s.LookupExport(*entry)
		if !ok {
			return errors.Errorf("no export %q", *entry)
		}
		args := make([]uint64, len(callArgs))
		for i, a := range callArgs {
			v, err := strconv.ParseUint(a, 0, 64)
			if err != nil {
				return errors.Wrapf(err, "bad -arg %q", a)
			}
			args[i] = v
		}
		ret, err := exec.Call(e.Addr, args...)
		if err != nil {
			return err
		}
		fmt.Printf("%s(%v) = %#x\n", *entry, callArgs, ret)
	}
	return nil
}

func main() {
	if err := run(); err != nil {
		printError(err)
		os.Exit(1)
	}
}
