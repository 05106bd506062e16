// Command fifodevd serves a single fifodev device on a unix domain socket,
// so unrelated processes can attach producer and consumer sessions to the
// same shared buffer.
package main

import (
	"errors"
	"flag"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/richinsley/fifodev"
)

func main() {
	socket := flag.String("socket", "/tmp/fifodev.sock", "unix socket path to serve the device on")
	flag.Parse()

	// A stale socket from an unclean shutdown would make Listen fail.
	if err := os.Remove(*socket); err != nil && !os.IsNotExist(err) {
		log.Fatalf("fifodevd: removing stale socket: %v", err)
	}

	ln, err := net.Listen("unix", *socket)
	if err != nil {
		log.Fatalf("fifodevd: listen: %v", err)
	}

	srv := fifodev.NewServer(fifodev.NewDevice())

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)

	errc := make(chan error, 1)
	go func() {
		errc <- srv.Serve(ln)
	}()
	log.Printf("fifodevd: serving on %s (capacity %d bytes)", *socket, fifodev.Capacity)

	select {
	case sig := <-sigs:
		log.Printf("fifodevd: received %v, shutting down", sig)
		srv.Close()
	case err := <-errc:
		if err != nil && !errors.Is(err, net.ErrClosed) {
			log.Printf("fifodevd: serve: %v", err)
		}
	}

	os.Remove(*socket)
	log.Printf("fifodevd: stopped")
}
