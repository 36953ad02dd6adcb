package main

import (
	"io"
	"os"
)

// console adapts a pair of byte streams to uart.Terminal: a reader
// goroutine drains stdin into a buffered channel so PollByte never
// blocks the hart's Tick, and PutByte writes straight through,
// flushing immediately the way the teacher's writeConsole does so
// output appears on the terminal without waiting for a line buffer.
type console struct {
	rx  chan byte
	out io.Writer
}

// newConsole starts the stdin reader goroutine and returns a console
// writing to out. The goroutine exits when in returns an error (EOF,
// or the terminal being torn down at process exit).
func newConsole(in io.Reader, out io.Writer) *console {
	c := &console{
		rx:  make(chan byte, 256),
		out: out,
	}
	go func() {
		buf := make([]byte, 1)
		for {
			n, err := in.Read(buf)
			if n > 0 {
				c.rx <- buf[0]
			}
			if err != nil {
				return
			}
		}
	}()
	return c
}

func (c *console) PutByte(b byte) {
	c.out.Write([]byte{b})
	if f, ok := c.out.(*os.File); ok {
		f.Sync()
	}
}

func (c *console) PollByte() (byte, bool) {
	select {
	case b := <-c.rx:
		return b, true
	default:
		return 0, false
	}
}
