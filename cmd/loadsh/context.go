package main

import (
	"fmt"
	"io"

	loadstone "github.com/strandos/loadstone"
	"github.com/strandos/loadstone/models"
)

type Context struct {
	io.Writer
	S    *loadstone.Session
	ABI  *models.ABITable
	Host bool
}

func (c *Context) Printf(format string, a ...interface{}) (n int, err error) {
	return fmt.Fprintf(c, format, a...)
}
