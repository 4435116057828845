package types

import (
	"context"
	"net/http"
)

// Opener issues HTTP requests on behalf of a live shell. The scan engine's
// transport layer implements it.
type Opener interface {
	Do(req *http.Request) (*http.Response, error)
}

// Runner executes background tasks for a live shell.
type Runner interface {
	Run(ctx context.Context, task func(ctx context.Context) error) error
}

// Shell is a live exploited-session handle. Only its durable identity is
// serialized; the opener and runner are live resources that the caller
// re-attaches after retrieval.
type Shell struct {
	ID        string `json:"id"`
	Plugin    string `json:"plugin"`
	SourceURL string `json:"url"`
	// Command is the injection vector used to reach the shell, e.g. the
	// exploited parameter and payload template.
	Command string `json:"command,omitempty"`

	opener Opener
	runner Runner
}

func NewShell(id, plugin, sourceURL, command string) *Shell {
	return &Shell{
		ID:        id,
		Plugin:    plugin,
		SourceURL: sourceURL,
		Command:   command,
	}
}

func (s *Shell) Kind() Kind { return KindShell }
func (s *Shell) URL() string { return s.SourceURL }
func (s *Shell) TokenName() string { return "" }
func (s *Shell) DataKeys() []string { return nil }

func (s *Shell) UniqID() string {
	return HashParts(string(KindShell), s.ID, s.Plugin, s.SourceURL, s.Command)
}

// Rehydrate re-attaches the live resources a stored shell needs to operate.
func (s *Shell) Rehydrate(opener Opener, runner Runner) {
	s.opener = opener
	s.runner = runner
}

// Live reports whether the shell has its live resources attached.
func (s *Shell) Live() bool {
	return s.opener != nil && s.runner != nil
}

func (s *Shell) Opener() Opener { return s.opener }
func (s *Shell) Runner() Runner { return s.runner }
