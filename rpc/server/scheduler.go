package server

import (
	"sync"
	"time"

	"github.com/stratadb/strata/lib/cluster"
	"github.com/stratadb/strata/lib/command"
	"github.com/stratadb/strata/lib/db"
	"github.com/stratadb/strata/lib/node"
	"github.com/stratadb/strata/lib/outbound"
)

// queueSize bounds how many commands may wait for the pipeline. Submitting
// beyond it blocks the reader, which is the backpressure we want.
const queueSize = 1024

// --------------------------------------------------------------------------
// Task
// --------------------------------------------------------------------------

// task is one command travelling through the scheduler.
type task struct {
	cmd  *command.Command
	conn *connection // response sink, nil for node-internal commands

	// resumed marks a command whose peek round already ran: it was parked
	// on an outbound sub-request and goes straight to processing.
	resumed bool

	// done is closed once the response has been written (or the command
	// was dropped at shutdown).
	done chan struct{}
}

// --------------------------------------------------------------------------
// Scheduler
// --------------------------------------------------------------------------

// scheduler runs the command pipeline on a single goroutine. Commands enter
// through submit from any number of connection readers; peek and process
// never run concurrently with each other.
type scheduler struct {
	node      *node.Node
	database  *db.DB
	committer cluster.ICommitter
	timeout   time.Duration

	queue   chan *task
	stopc   chan struct{}
	stopped chan struct{}

	mu      sync.Mutex
	pending map[string]*task // command ID -> live task (queued, parked or running)
	closed  bool
}

func newScheduler(n *node.Node, d *db.DB, committer cluster.ICommitter, timeout time.Duration) *scheduler {
	return &scheduler{
		node:      n,
		database:  d,
		committer: committer,
		timeout:   timeout,
		queue:     make(chan *task, queueSize),
		stopc:     make(chan struct{}),
		stopped:   make(chan struct{}),
		pending:   make(map[string]*task),
	}
}

func (s *scheduler) start() {
	go s.run()
}

// submit queues a command for the pipeline. It returns nil once the
// scheduler is stopping.
func (s *scheduler) submit(cmd *command.Command, conn *connection) *task {
	t := &task{cmd: cmd, conn: conn, done: make(chan struct{})}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.pending[cmd.ID] = t
	s.mu.Unlock()

	select {
	case s.queue <- t:
	case <-s.stopc:
		// the shutdown drain owns the task now and closes done
	}
	return t
}

// Depth returns the number of commands that have not received a response
// yet, parked commands included.
func (s *scheduler) Depth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

func (s *scheduler) run() {
	defer close(s.stopped)
	for {
		select {
		case <-s.stopc:
			return
		default:
		}
		select {
		case <-s.stopc:
			return
		case t := <-s.queue:
			s.execute(t)
		}
	}
}

// execute runs one command through the pipeline: peek, then on the leader
// process and replicate. Parked commands resume at the process phase.
func (s *scheduler) execute(t *task) {
	cmd := t.cmd

	if !t.resumed {
		if s.node.Peek(s.database, cmd) {
			s.finish(t)
			return
		}
		// Peek may have opened an outbound sub-request. The command is
		// not processable until that call completes.
		if sub := cmd.SubRequest; sub != nil && !sub.Completed() {
			s.park(t, sub)
			return
		}
	}

	if !s.committer.Leader() {
		cmd.Response.Status = command.StatusLeaderRequired
		s.finish(t)
		return
	}

	s.node.Process(s.database, cmd)

	// A prepared transaction has the commit staged; hand it to the
	// replication engine. On failure the write must not survive.
	if s.database.Prepared() {
		if err := s.committer.Commit(); err != nil {
			log.Errorf("commit of command '%s' failed: %v", cmd.Request.Method, err)
			s.database.Rollback()
			s.node.Abort(cmd)
		}
	}
	s.finish(t)
}

// park holds a command until its sub-request completes, then requeues it
// for processing. Shutdown releases parked commands without resuming them.
func (s *scheduler) park(t *task, sub *outbound.Transaction) {
	log.Infof("parking command '%s' on sub-request %s", t.cmd.Request.Method, sub.ID)
	go func() {
		select {
		case <-sub.Done():
			t.resumed = true
			select {
			case s.queue <- t:
			case <-s.stopc:
			}
		case <-s.stopc:
		}
	}()
}

// finish cleans the command, writes the response and releases the task.
func (s *scheduler) finish(t *task) {
	cmd := t.cmd

	s.node.Clean(cmd)

	if t.conn != nil {
		if err := t.conn.write(cmd.Response, s.timeout); err != nil {
			log.Warningf("failed to write response for command '%s': %v", cmd.Request.Method, err)
		}
	}

	s.mu.Lock()
	delete(s.pending, cmd.ID)
	s.mu.Unlock()
	close(t.done)
}

// stop halts the pipeline loop and drops every command that never got a
// response. It returns their methods for the shutdown report.
func (s *scheduler) stop() []string {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		<-s.stopped
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.stopc)
	<-s.stopped

	s.mu.Lock()
	defer s.mu.Unlock()
	var queued []string
	for _, t := range s.pending {
		queued = append(queued, t.cmd.Request.Method)
		s.node.Clean(t.cmd)
		close(t.done)
	}
	s.pending = make(map[string]*task)
	return queued
}
