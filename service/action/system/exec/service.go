package exec

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gantryci/gantry/internal/logging"
	"github.com/gantryci/gantry/service/action/system"
	"github.com/viant/afs/url"
	"github.com/viant/gosh"
	"github.com/viant/gosh/runner"
	"github.com/viant/gosh/runner/local"
	rssh "github.com/viant/gosh/runner/ssh"
	"github.com/viant/scy/cred/secret"
	"golang.org/x/crypto/ssh"
)

// Service executes shell commands for pipeline steps. It keeps one gosh
// session per runner host so consecutive steps on the same runner share
// shell state such as the working directory.
type Service struct {
	sessions map[string]*sessionInfo
	mux      sync.Mutex
}

type sessionInfo struct {
	service *gosh.Service
}

// New creates a new exec service.
func New() *Service {
	return &Service{
		sessions: make(map[string]*sessionInfo),
	}
}

// Execute runs the input commands on the target runner, collecting combined
// and per-command output.
func (s *Service) Execute(ctx context.Context, input *Input, output *Output) error {
	input.Init()

	session, err := s.getSession(ctx, input.Host, input.Env)
	if err != nil {
		return fmt.Errorf("failed to get session: %w", err)
	}

	if input.Workdir != "" {
		if _, _, err := session.service.Run(ctx, fmt.Sprintf("cd %s", input.Workdir)); err != nil {
			return fmt.Errorf("failed to change directory: %w", err)
		}
	}

	abortOnError := input.AbortsOnError()

	commands := make([]*Command, 0, len(input.Commands))
	var combinedStdout, combinedStderr strings.Builder
	var lastExitCode int

	timeoutDuration := time.Duration(input.TimeoutMs) * time.Millisecond
	if timeoutDuration == 0 {
		timeoutDuration = time.Minute
	}
	for _, cmd := range input.Commands {
		logging.Debugf("exec %s: %s", input.Host.URL, input.Masked(cmd))
		command := &Command{
			Input: cmd,
		}

		stdout, stderr, exitCode := s.executeCommand(ctx, session, cmd, timeoutDuration)
		command.Output = stdout
		command.Stderr = stderr
		command.Status = exitCode
		commands = append(commands, command)

		if stdout != "" {
			combinedStdout.WriteString(stdout)
			combinedStdout.WriteString("\n")
		}
		if stderr != "" {
			combinedStderr.WriteString(stderr)
			combinedStderr.WriteString("\n")
		}

		lastExitCode = exitCode

		if abortOnError && exitCode != 0 {
			break
		}
	}

	output.Commands = commands
	output.Stdout = strings.TrimSpace(combinedStdout.String())
	output.Stderr = strings.TrimSpace(combinedStderr.String())
	output.Status = lastExitCode

	if abortOnError && lastExitCode != 0 {
		return fmt.Errorf("command exited with status %d: %s", lastExitCode, output.Stderr)
	}
	return nil
}

// executeCommand runs a single command and returns stdout, stderr and exit status.
func (s *Service) executeCommand(ctx context.Context, session *sessionInfo, command string, duration time.Duration) (string, string, int) {
	started := time.Now()
	stdout, status, err := session.service.Run(ctx, command, runner.WithTimeout(int(duration.Milliseconds())))
	elapsed := time.Since(started)
	if elapsed > duration && err == nil {
		err = fmt.Errorf("command %v timed out after: %s", command, elapsed)
	}

	if status == 0 && err == nil {
		return stdout, "", status
	}
	if stdout == "" && err != nil {
		stdout = err.Error()
	}
	if status == 0 {
		status = 1
	}
	return "", stdout, status
}

// getSession retrieves an existing runner session or creates a new one.
func (s *Service) getSession(ctx context.Context, host *system.Host, env map[string]string) (*sessionInfo, error) {
	sessionID := host.URL

	s.mux.Lock()
	defer s.mux.Unlock()

	if session, ok := s.sessions[sessionID]; ok {
		return session, nil
	}

	var service *gosh.Service
	var err error

	envOptions := []runner.Option{}
	if len(env) > 0 {
		envOptions = append(envOptions, runner.WithEnvironment(env))
	}
	if host.IsLocal() || url.Host(host.URL) == "localhost" {
		service, err = gosh.New(ctx, local.New(envOptions...))
	} else {
		config, cErr := s.getSSHConfig(ctx, host)
		if cErr != nil {
			return nil, fmt.Errorf("failed to get SSH config: %w", cErr)
		}

		sshHost := url.Host(host.URL)
		if !strings.Contains(sshHost, ":") {
			sshHost += ":22"
		}

		service, err = gosh.New(ctx, rssh.New(sshHost, config, envOptions...))
	}
	if err != nil {
		return nil, err
	}
	session := &sessionInfo{
		service: service,
	}
	s.sessions[sessionID] = session
	return session, nil
}

// getSSHConfig resolves the runner's credentials into an SSH client config.
func (s *Service) getSSHConfig(ctx context.Context, host *system.Host) (*ssh.ClientConfig, error) {
	credentials := host.Credentials
	if credentials == "" {
		credentials = "localhost"
	}
	secrets := secret.New()
	generic, err := secrets.GetCredentials(ctx, credentials)
	if err != nil {
		return nil, err
	}
	return generic.SSH.Config(ctx)
}

// Close releases all runner sessions held by this service.
func (s *Service) Close(ctx context.Context) error {
	s.mux.Lock()
	defer s.mux.Unlock()
	var errs []string
	for id, session := range s.sessions {
		if err := session.service.Close(); err != nil {
			errs = append(errs, fmt.Sprintf("failed to close session %s: %v", id, err))
		}
	}
	s.sessions = make(map[string]*sessionInfo)
	if len(errs) > 0 {
		return fmt.Errorf("errors closing sessions: %s", strings.Join(errs, "; "))
	}
	return nil
}
