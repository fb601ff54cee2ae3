package lifecycle

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kynetic-ai/kynetic-bot/internal/agent/terminal"
	"github.com/kynetic-ai/kynetic-bot/pkg/acp/protocol"
)

// registerHandlers wires every inbound ACP request an agent may send against
// this instance: file I/O scoped to the agent's working directory,
// terminal/* backed by internal/agent/terminal, and session/request_permission.
// There is no human-in-the-loop surface to route permission prompts through
// yet, so the handler auto-selects the first offered option.
func (m *Manager) registerHandlers(inst *Instance) {
	term := terminal.NewManager()
	inst.terminal = term
	workDir := m.cfg.WorkDir

	inst.ACP.RegisterHandler(protocol.MethodFsReadTextFile, func(ctx context.Context, params json.RawMessage) (interface{}, error) {
		var p protocol.ReadTextFileParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, err
		}
		path, err := safeJoin(workDir, p.Path)
		if err != nil {
			return nil, err
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %q: %w", p.Path, err)
		}
		return protocol.ReadTextFileResult{Content: string(content)}, nil
	})

	inst.ACP.RegisterHandler(protocol.MethodFsWriteTextFile, func(ctx context.Context, params json.RawMessage) (interface{}, error) {
		var p protocol.WriteTextFileParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, err
		}
		path, err := safeJoin(workDir, p.Path)
		if err != nil {
			return nil, err
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("write %q: %w", p.Path, err)
		}
		if err := os.WriteFile(path, []byte(p.Content), 0o644); err != nil {
			return nil, fmt.Errorf("write %q: %w", p.Path, err)
		}
		return struct{}{}, nil
	})

	inst.ACP.RegisterHandler(protocol.MethodRequestPermission, func(ctx context.Context, params json.RawMessage) (interface{}, error) {
		var p protocol.RequestPermissionParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, err
		}
		if len(p.Options) == 0 {
			return protocol.RequestPermissionResult{Outcome: protocol.PermissionOutcome{Outcome: "cancelled"}}, nil
		}
		return protocol.RequestPermissionResult{
			Outcome: protocol.PermissionOutcome{Outcome: "selected", OptionID: p.Options[0].OptionID},
		}, nil
	})

	inst.ACP.RegisterHandler(protocol.MethodTerminalCreate, func(ctx context.Context, params json.RawMessage) (interface{}, error) {
		var p protocol.CreateTerminalParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, err
		}
		cwd := p.Cwd
		if cwd == "" {
			cwd = workDir
		}
		session, err := term.Create(p.Command, p.Args, cwd)
		if err != nil {
			return nil, err
		}
		return protocol.CreateTerminalResult{TerminalID: session.ID}, nil
	})

	inst.ACP.RegisterHandler(protocol.MethodTerminalOutput, func(ctx context.Context, params json.RawMessage) (interface{}, error) {
		session, err := lookupTerminal(term, params)
		if err != nil {
			return nil, err
		}
		output, truncated := session.Output()
		return protocol.TerminalOutputResult{Output: output, Truncated: truncated}, nil
	})

	inst.ACP.RegisterHandler(protocol.MethodTerminalWait, func(ctx context.Context, params json.RawMessage) (interface{}, error) {
		session, err := lookupTerminal(term, params)
		if err != nil {
			return nil, err
		}
		return protocol.TerminalExitResult{ExitCode: session.Wait()}, nil
	})

	inst.ACP.RegisterHandler(protocol.MethodTerminalKill, func(ctx context.Context, params json.RawMessage) (interface{}, error) {
		session, err := lookupTerminal(term, params)
		if err != nil {
			return nil, err
		}
		return struct{}{}, session.Kill()
	})

	inst.ACP.RegisterHandler(protocol.MethodTerminalRelease, func(ctx context.Context, params json.RawMessage) (interface{}, error) {
		var p protocol.TerminalIDParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, err
		}
		return struct{}{}, term.Release(p.TerminalID)
	})
}

func lookupTerminal(term *terminal.Manager, params json.RawMessage) (*terminal.Session, error) {
	var p protocol.TerminalIDParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, err
	}
	session, ok := term.Get(p.TerminalID)
	if !ok {
		return nil, fmt.Errorf("terminal %q not found", p.TerminalID)
	}
	return session, nil
}

// safeJoin resolves rel against root and rejects any path that would escape
// root, so an agent's fs/* request can never read or write outside its
// configured working directory.
func safeJoin(root, rel string) (string, error) {
	joined := filepath.Join(root, rel)
	cleanRoot := filepath.Clean(root)
	if joined != cleanRoot && !strings.HasPrefix(joined, cleanRoot+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes working directory", rel)
	}
	return joined, nil
}
