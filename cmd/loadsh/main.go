package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/chzyer/readline"
	colorable "github.com/mattn/go-colorable"
	isatty "github.com/mattn/go-isatty"
	"github.com/mgutz/ansi"
	"github.com/shibukawa/configdir"
	"github.com/xyproto/env/v2"

	loadstone "github.com/strandos/loadstone"
	"github.com/strandos/loadstone/mem"
	"github.com/strandos/loadstone/models"
)

func loadABI(path string) (*models.ABITable, error) {
	if path == "" {
		return nil, nil
	}
	return loadstone.ParseABIFile(path)
}

func historyPath() string {
	configDirs := configdir.New("loadstone", "loadsh")
	cacheDir := configDirs.QueryCacheFolder()
	if err := cacheDir.MkdirAll(); err != nil {
		return ""
	}
	return filepath.Join(cacheDir.Path, "history")
}

func main() {
	abiPath := flag.String("abi", env.Str("LOADSTONE_ABI"), "ABI table file (name 0xADDR per line)")
	host := flag.Bool("host", env.Bool("LOADSTONE_HOST"), "map real executable pages instead of an arena")
	arenaBase := flag.Uint64("arena-base", 0x10000, "arena base address")
	arenaSize := flag.Uint64("arena-size", uint64(env.Int("LOADSTONE_ARENA_SIZE", 64<<20)), "arena size in bytes")
	flag.Parse()

	abi, err := loadABI(*abiPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	var mapper mem.Mapper
	if *host {
		mapper, err = mem.NewHostMap()
	} else {
		mapper, err = mem.NewArena(*arenaBase, *arenaSize, 0x1000)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	s := loadstone.NewSession(mapper, abi)
	defer s.Close()

	color := isatty.IsTerminal(os.Stdout.Fd())
	prompt := "lds> "
	if color {
		prompt = ansi.Color("lds", "cyan+b") + "> "
	}
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          prompt,
		HistoryFile:     historyPath(),
		InterruptPrompt: "\n",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer rl.Close()

	ctx := &Context{
		Writer: colorable.NewColorableStdout(),
		S:      s,
		ABI:    abi,
		Host:   *host,
	}
	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		} else if err == io.EOF {
			break
		} else if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			break
		}
		if line == "exit" || line == "quit" {
			break
		}
		Run(ctx, line)
	}
}
