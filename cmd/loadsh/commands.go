package main

import (
	"fmt"
	"os"
	"reflect"
	"sort"

	"github.com/lunixbochs/argjoy"
	shellwords "github.com/mattn/go-shellwords"
	"github.com/pkg/errors"

	loadstone "github.com/strandos/loadstone"
	"github.com/strandos/loadstone/exec"
	"github.com/strandos/loadstone/loader"
	"github.com/strandos/loadstone/models"
)

type Command struct {
	Name string
	Desc string
	Run  interface{}
}

var Commands = make(map[string]*Command)

func cmd(c *Command) *Command {
	fn := reflect.ValueOf(c.Run)
	if !fn.IsValid() || fn.Kind() != reflect.Func {
		panic(fmt.Sprintf("Command.Run must be a func: got (%T) %#v\n", c.Run, c.Run))
	}
	Commands[c.Name] = c
	return c
}

var aj = argjoy.NewArgjoy()

func Run(c *Context, line string) error {
	args, err := shellwords.Parse(line)
	if err != nil {
		c.Printf("parse error: %v\n", err)
		return nil
	}
	if len(args) == 0 {
		return nil
	}
	name, args := args[0], args[1:]
	if cmd, ok := Commands[name]; ok {
		out, err := aj.Call(cmd.Run, c, args)
		if err != nil {
			c.Printf("error: %v\n", err)
		}
		if len(out) > 0 {
			if err, ok := out[0].(error); ok && err != nil {
				c.Printf("error: %v\n", err)
			}
		}
	} else {
		c.Printf("command not found.\n")
	}
	return nil
}

var HelpCmd = cmd(&Command{
	Name: "help",
	Desc: "List commands.",
	Run: func(c *Context) error {
		names := make([]string, 0, len(Commands))
		for name := range Commands {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			c.Printf("  %-8s %s\n", name, Commands[name].Desc)
		}
		return nil
	},
})

var LoadCmd = cmd(&Command{
	Name: "load",
	Desc: "Load an object file or bundle.",
	Run: func(c *Context, path string) error {
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		var mods []*loadstone.Module
		switch {
		case len(data) >= 4 && string(data[:4]) == "LSAR":
			f, err := os.Open(path)
			if err != nil {
				return err
			}
			mods, err = c.S.LoadBundle(f)
			f.Close()
			if err != nil {
				return err
			}
		case loader.MatchObject(data):
			mods, err = c.S.Load([]loadstone.Input{{Name: path, Data: data}})
			if err != nil {
				return err
			}
		default:
			return &models.MalformedObjectError{Object: path, Reason: "not an object file or bundle"}
		}
		for _, m := range mods {
			c.Printf("%v\n", m)
		}
		return nil
	},
})

var UnloadCmd = cmd(&Command{
	Name: "unload",
	Desc: "Unload a module by id.",
	Run: func(c *Context, id uint64) error {
		return c.S.Unload(int(id))
	},
})

var ModsCmd = cmd(&Command{
	Name: "mods",
	Desc: "List loaded modules.",
	Run: func(c *Context) error {
		for _, m := range c.S.Modules() {
			c.Printf("  %v\n", m)
		}
		return nil
	},
})

var SymsCmd = cmd(&Command{
	Name: "syms",
	Desc: "List a module's exports.",
	Run: func(c *Context, id uint64) error {
		m, ok := c.S.Module(int(id))
		if !ok {
			return errors.Errorf("no module %d", id)
		}
		for _, e := range m.Exports {
			c.Printf("  %#x %s\n", e.Addr, e.Name)
		}
		return nil
	},
})

var LookupCmd = cmd(&Command{
	Name: "lookup",
	Desc: "Find an export by name.",
	Run: func(c *Context, name string) error {
		e, ok := c.S.LookupExport(name)
		if !ok {
			return errors.Errorf("no export %q", name)
		}
		c.Printf("  %#x %s\n", e.Addr, e.Name)
		return nil
	},
})

var AddrCmd = cmd(&Command{
	Name: "addr",
	Desc: "Symbolicate an address.",
	Run: func(c *Context, addr uint64) error {
		m, name, off, ok := c.S.Symbolicate(addr)
		if !ok {
			return errors.Errorf("%#x is not inside a loaded module", addr)
		}
		c.Printf("  %s+%#x (module %d)\n", name, off, m.ID)
		return nil
	},
})

var CallCmd = cmd(&Command{
	Name: "call",
	Desc: "Call an export with integer arguments.",
	Run: func(c *Context, name string, args ...uint64) error {
		if !c.Host {
			return errors.New("call requires host mode (start with -host)")
		}
		e, ok := c.S.LookupExport(name)
		if !ok {
			return errors.Errorf("no export %q", name)
		}
		ret, err := exec.Call(e.Addr, args...)
		if err != nil {
			return err
		}
		c.Printf("  %#x\n", ret)
		return nil
	},
})

var AbiCmd = cmd(&Command{
	Name: "abi",
	Desc: "List the fixed entry point table.",
	Run: func(c *Context) error {
		if c.ABI == nil {
			c.Printf("  no ABI table loaded.\n")
			return nil
		}
		for _, name := range c.ABI.Names() {
			addr, _ := c.ABI.Lookup(name)
			c.Printf("  %#x %s\n", addr, name)
		}
		return nil
	},
})

var FreeCmd = cmd(&Command{
	Name: "free",
	Desc: "Show remaining mapper bytes.",
	Run: func(c *Context) error {
		c.Printf("  %#x bytes free\n", c.S.Free())
		return nil
	},
})
