package control

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/alvmarrod/follow-weaver/internal/crawler"
	"github.com/sirupsen/logrus"
)

// Commands are matched by prefix against the raw request.
const (
	CommandState   = "state"
	CommandCrawled = "crawled"
	CommandLeft    = "left"
	CommandWorker  = "worker"
	CommandPause   = "pause"
	CommandRun     = "run"
	CommandStop    = "stop"
)

const (
	responseState         = "I'm %s.\n"
	responseCrawled       = "I crawled %d people in %.2f, speed %.2f, I'm great!\n"
	responseLeft          = "I have %d people to crawl. Oh, I hate work!\n"
	responseWorker        = "There are %2d worker(s) crawling now.\n"
	responseWorkerStream  = "There are %2d worker(s) crawling now.\r"
	responsePause         = "Ok, But please wait a moment...\n"
	responsePauseFinish   = "Pause finish.\n"
	responseRun           = "I will try my best to work for you!\n"
	responseStop          = "Stopped(file dumped).\n"
	responseWaitDB        = "Waiting for database writer quit...\n"
	responseNotUnderstand = "I can't understand your words.\n"
	responseError         = "Something went wrong: %v\n"
)

const (
	maxRequestSize = 1024
	readTimeout    = 30 * time.Second
)

// Server accepts one command per connection and writes the reply
type Server struct {
	machine  *Machine
	listener net.Listener
	wg       sync.WaitGroup
}

// Listen binds the control port
func Listen(addr string, machine *Machine) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to bind control address %s: %w", addr, err)
	}
	return &Server{machine: machine, listener: ln}, nil
}

// Addr returns the bound address
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Serve accepts connections until ctx is cancelled or the listener is closed
func (s *Server) Serve(ctx context.Context) error {
	logrus.Infof("Server start! Listening on %s", s.listener.Addr())

	go func() {
		<-ctx.Done()
		s.listener.Close()
	}()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				s.wg.Wait()
				return nil
			}
			logrus.Warnf("Error happened in server: %v", err)
			continue
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handle(ctx, conn)
		}()
	}
}

// Close stops accepting connections
func (s *Server) Close() error {
	return s.listener.Close()
}

func (s *Server) handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	buf := make([]byte, maxRequestSize)
	n, err := conn.Read(buf)
	if err != nil && !errors.Is(err, io.EOF) {
		logrus.Warnf("Failed to read command: %v", err)
		return
	}
	data := buf[:n]
	logrus.Infof("Received a command %s.", strings.TrimRight(string(data), "\r\n"))

	s.dispatch(ctx, data, conn)
}

// dispatch runs the command in data and writes the reply to w
func (s *Server) dispatch(ctx context.Context, data []byte, w io.Writer) {
	send := func(format string, args ...any) {
		if _, err := fmt.Fprintf(w, format, args...); err != nil {
			logrus.Debugf("Failed to send response: %v", err)
		}
	}
	preamble := func() {
		send(responsePause)
	}
	report := func(workers int) {
		send(responseWorkerStream, workers)
	}
	echoState := func(st crawler.State) {
		send(responseState, st)
	}

	switch {
	case bytes.HasPrefix(data, []byte(CommandState)):
		echoState(s.machine.State())

	case bytes.HasPrefix(data, []byte(CommandCrawled)):
		crawled, err := s.machine.Crawled(ctx)
		if err != nil {
			send(responseError, err)
			return
		}
		elapsed := s.machine.Elapsed().Seconds()
		speed := 0.0
		if elapsed > 0 {
			speed = float64(crawled) / elapsed
		}
		send(responseCrawled, crawled, elapsed, speed)

	case bytes.HasPrefix(data, []byte(CommandLeft)):
		left, err := s.machine.Left(ctx)
		if err != nil {
			send(responseError, err)
			return
		}
		send(responseLeft, left)

	case bytes.HasPrefix(data, []byte(CommandWorker)):
		send(responseWorker, s.machine.Workers())

	case bytes.HasPrefix(data, []byte(CommandPause)):
		if st, ok := s.machine.Pause(ctx, preamble, report); !ok {
			echoState(st)
			return
		}
		send(responsePauseFinish)

	case bytes.HasPrefix(data, []byte(CommandRun)):
		if st, ok := s.machine.Resume(); !ok {
			echoState(st)
			return
		}
		send(responseRun)

	case bytes.HasPrefix(data, []byte(CommandStop)):
		waiting := func() { send(responseWaitDB) }
		if st, ok := s.machine.Stop(ctx, preamble, report, waiting); !ok {
			echoState(st)
			return
		}
		send(responseStop)

	default:
		send(responseNotUnderstand)
	}
}
