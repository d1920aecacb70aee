package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/strandos/loadstone/archive"
	"github.com/strandos/loadstone/loader"
)

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: %s create <out.lsar> <object.o>...\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "       %s list <bundle.lsar>\n", os.Args[0])
	os.Exit(1)
}

func create(out string, objects []string) error {
	f, err := os.Create(out)
	if err != nil {
		return err
	}
	w, err := archive.NewWriter(f, len(objects))
	if err != nil {
		f.Close()
		return err
	}
	for _, path := range objects {
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		if !loader.MatchObject(data) {
			return errors.Errorf("%s is not an object file", path)
		}
		if err := w.Add(filepath.Base(path), data); err != nil {
			return err
		}
	}
	return w.Close()
}

func list(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	r, err := archive.NewReader(f)
	if err != nil {
		f.Close()
		return err
	}
	defer r.Close()
	entries, err := r.All()
	if err != nil {
		return err
	}
	for _, e := range entries {
		fmt.Printf("%8d %s\n", len(e.Data), e.Name)
	}
	return nil
}

func main() {
	if len(os.Args) < 3 {
		usage()
	}
	var err error
	switch os.Args[1] {
	case "create":
		if len(os.Args) < 4 {
			usage()
		}
		err = create(os.Args[2], os.Args[3:])
	case "list":
		err = list(os.Args[2])
	default:
		usage()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
