package server

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"os/signal"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/stratadb/strata/lib/cluster"
	"github.com/stratadb/strata/lib/command"
	"github.com/stratadb/strata/lib/db"
	"github.com/stratadb/strata/lib/node"
	"github.com/stratadb/strata/rpc/common"
	"github.com/stratadb/strata/rpc/transport"
)

var log = logger.GetLogger("server")

// --------------------------------------------------------------------------
// Connection
// --------------------------------------------------------------------------

// connection is one live client connection. Responses may be written from
// the scheduler while the reader waits for the next request, so writes are
// serialized behind a mutex.
type connection struct {
	id   uint64
	conn net.Conn
	mu   sync.Mutex
}

func (c *connection) write(resp *command.Response, timeout time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if timeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
			return err
		}
	}
	_, err := c.conn.Write(resp.Serialize())
	return err
}

// --------------------------------------------------------------------------
// Server
// --------------------------------------------------------------------------

// Server accepts client connections and feeds their commands through the
// node's pipeline, one command at a time.
type Server struct {
	config      common.ServerConfig
	node        *node.Node
	scheduler   *scheduler
	synchronous map[string]bool

	listener    net.Listener
	connections *xsync.MapOf[uint64, *connection]
	nextConnID  atomic.Uint64

	closing  atomic.Bool
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewServer creates a command server running the given node. The committer
// decides whether this node may process writes and replicates every commit.
func NewServer(conf common.ServerConfig, n *node.Node, d *db.DB, committer cluster.ICommitter) *Server {
	// https://github.com/golang/go/issues/17393
	if runtime.GOOS == "darwin" {
		signal.Ignore(syscall.Signal(0xd))
	}

	timeout := time.Duration(conf.TimeoutSecond) * time.Second

	synchronous := make(map[string]bool, len(conf.Node.SynchronousCommands))
	for _, method := range conf.Node.SynchronousCommands {
		synchronous[strings.ToLower(method)] = true
	}

	log.Infof("created command server")
	log.Infof(conf.String())

	return &Server{
		config:      conf,
		node:        n,
		scheduler:   newScheduler(n, d, committer, timeout),
		synchronous: synchronous,
		connections: xsync.NewMapOf[uint64, *connection](),
	}
}

// QueueDepth returns the number of commands waiting for a response.
//
// Thread-safety: safe to call concurrently with the server running.
func (s *Server) QueueDepth() int {
	return s.scheduler.Depth()
}

// Submit feeds a node-internal command into the pipeline and returns a
// channel that is closed once the command has finished. Used for commands
// the node issues to itself, like the schema upgrade after winning an
// election.
func (s *Server) Submit(req *command.Request) <-chan struct{} {
	t := s.scheduler.submit(command.New(req), nil)
	if t == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return t.done
}

// Serve starts the scheduler and accepts connections until Stop is called.
func (s *Server) Serve() error {
	listener, err := transport.Listen(s.config.Endpoint)
	if err != nil {
		return fmt.Errorf("failed to create listener: %v", err)
	}
	s.listener = listener
	s.scheduler.start()

	log.Infof("node %q listening on %s", s.node.NodeName(), listener.Addr())

	for {
		conn, err := listener.Accept()
		if err != nil {
			if s.closing.Load() {
				return nil
			}
			log.Errorf("accept error: %v", err)
			continue
		}
		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

// Stop drains the server: the listener closes, the scheduler halts, every
// command still waiting is reported through the node's shutdown path and
// all client connections are torn down.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		s.closing.Store(true)
		if s.listener != nil {
			s.listener.Close()
		}

		queued := s.scheduler.stop()
		s.node.Shutdown(queued)

		s.connections.Range(func(_ uint64, c *connection) bool {
			c.conn.Close()
			return true
		})
		s.wg.Wait()
		log.Infof("command server stopped")
	})
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// handleConnection reads commands off one connection and submits them to
// the scheduler. Commands on the synchronous list are awaited before the
// next request is read; everything else is pipelined.
func (s *Server) handleConnection(netConn net.Conn) {
	c := &connection{id: s.nextConnID.Add(1), conn: netConn}
	s.connections.Store(c.id, c)
	metrics.GetOrCreateCounter(`strata_server_connections_total`).Inc()

	defer func() {
		s.connections.Delete(c.id)
		netConn.Close()
		s.wg.Done()
	}()

	timeout := time.Duration(s.config.TimeoutSecond) * time.Second
	br := bufio.NewReader(netConn)

	for {
		if timeout > 0 {
			if err := netConn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
				log.Errorf("failed to set read deadline: %v", err)
				return
			}
		}

		req, err := command.ParseRequest(br)
		if err == io.EOF {
			log.Infof("connection closed by client")
			return
		}
		if err != nil {
			if !s.closing.Load() {
				log.Warningf("dropping connection: %v", err)
			}
			return
		}

		metrics.GetOrCreateCounter(`strata_server_requests_total`).Inc()

		t := s.scheduler.submit(command.New(req), c)
		if t == nil {
			// shutting down, the client reconnects elsewhere
			return
		}
		if s.synchronous[strings.ToLower(req.Method)] {
			<-t.done
		}
	}
}
