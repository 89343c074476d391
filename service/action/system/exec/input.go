package exec

import (
	"strings"

	"github.com/gantryci/gantry/service/action/system"
)

// Input describes one execute invocation: where to run and what to run.
type Input struct {
	Host         *system.Host      `json:"host,omitempty" description:"runner host to execute commands on"`
	Workdir      string            `json:"workdir,omitempty" description:"directory commands start in"`
	Env          map[string]string `json:"env,omitempty" description:"environment variables set before commands run"`
	Commands     []string          `json:"commands,omitempty" description:"commands to execute on the runner"`
	TimeoutMs    int               `json:"timeoutMs,omitempty" yaml:"timeoutMs,omitempty" description:"max wait time per command before timing out"`
	AbortOnError *bool             `json:"abortOnError,omitempty" description:"stop at the first command exiting non-zero"`

	// Secrets lists values that must never appear in engine logs; every
	// occurrence in a logged command line is replaced with *****.
	Secrets []string `json:"secrets,omitempty" description:"values masked in logged command lines"`
}

// Init applies defaults: the local shell runner.
func (i *Input) Init() {
	if i.Host == nil {
		i.Host = &system.Host{}
	}
	if i.Host.URL == "" {
		i.Host.URL = "bash://localhost/"
	}
}

// AbortsOnError reports whether a non-zero exit stops the remaining
// commands; on by default.
func (i *Input) AbortsOnError() bool {
	if i.AbortOnError == nil {
		return true
	}
	return *i.AbortOnError
}

// Masked returns the command with every secret value replaced, for logging.
func (i *Input) Masked(command string) string {
	for _, secret := range i.Secrets {
		if secret == "" {
			continue
		}
		command = strings.ReplaceAll(command, secret, "*****")
	}
	return command
}
