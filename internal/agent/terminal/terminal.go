// Package terminal implements the ACP terminal/* request family: agents
// request an interactive pty-backed command, poll its output, and release
// it when done.
package terminal

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"sync"

	"github.com/creack/pty"
	"github.com/google/uuid"

	"github.com/kynetic-ai/kynetic-bot/internal/common/apperrors"
)

// maxBufferedOutput bounds how much output one terminal session retains;
// beyond this the oldest bytes are dropped and Truncated is reported.
const maxBufferedOutput = 1 << 20 // 1MiB

// Session is one pty-backed terminal the agent is driving.
type Session struct {
	ID string

	cmd *exec.Cmd
	pty *os.File

	mu        sync.Mutex
	output    bytes.Buffer
	truncated bool
	exited    bool
	exitCode  int
	exitCh    chan struct{}
}

func (s *Session) readLoop() {
	buf := make([]byte, 4096)
	for {
		n, err := s.pty.Read(buf)
		if n > 0 {
			s.appendOutput(buf[:n])
		}
		if err != nil {
			break
		}
	}

	state, _ := s.cmd.Process.Wait()
	s.mu.Lock()
	s.exited = true
	if state != nil {
		s.exitCode = state.ExitCode()
	}
	s.mu.Unlock()
	close(s.exitCh)
}

func (s *Session) appendOutput(b []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.output.Write(b)
	if s.output.Len() > maxBufferedOutput {
		excess := s.output.Len() - maxBufferedOutput
		s.output.Next(excess)
		s.truncated = true
	}
}

// Output returns everything buffered so far and whether older output was
// dropped to stay within maxBufferedOutput.
func (s *Session) Output() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.output.String(), s.truncated
}

// Wait blocks until the command exits and returns its exit code.
func (s *Session) Wait() int {
	<-s.exitCh
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exitCode
}

// Kill terminates the underlying process.
func (s *Session) Kill() error {
	if s.cmd.Process == nil {
		return nil
	}
	return s.cmd.Process.Kill()
}

// Manager tracks terminal sessions created on behalf of a single agent instance.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager creates an empty terminal session manager.
func NewManager() *Manager {
	return &Manager{sessions: make(map[string]*Session)}
}

// Create starts command/args under a pty rooted at cwd and registers the
// resulting session under a fresh id.
func (m *Manager) Create(command string, args []string, cwd string) (*Session, error) {
	cmd := exec.Command(command, args...)
	if cwd != "" {
		cmd.Dir = cwd
	}

	f, err := pty.Start(cmd)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeSpawnError, "failed to start pty terminal", err)
	}

	session := &Session{
		ID:     uuid.New().String(),
		cmd:    cmd,
		pty:    f,
		exitCh: make(chan struct{}),
	}
	go session.readLoop()

	m.mu.Lock()
	m.sessions[session.ID] = session
	m.mu.Unlock()

	return session, nil
}

// Get returns a session by id.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Release stops tracking a session. It does not kill the process; callers
// that want that should call Kill first.
func (m *Manager) Release(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[id]; !ok {
		return fmt.Errorf("terminal %q not found", id)
	}
	delete(m.sessions, id)
	return nil
}
