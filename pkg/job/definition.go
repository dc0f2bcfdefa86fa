package job

import (
	"fmt"
	"strings"

	"github.com/dmitrymomot/jobkit/pkg/queue"
)

// Definition ties a job name to its payload type D. It produces the provider
// that builds the job's Sender, resolves that Sender from a Container and
// binds handlers to the name. Creating a definition never touches an engine.
//
//	var WelcomeEmail = job.MustNew[WelcomeEmailData]("send-welcome-email")
type Definition[D any] struct {
	name  string
	token Token
}

// New creates a job definition. Names that are empty or whitespace only are
// rejected with ErrEmptyJobName, names engines cannot use as a queue key with
// queue.ErrInvalidJobName.
func New[D any](name string) (*Definition[D], error) {
	if strings.TrimSpace(name) == "" {
		return nil, ErrEmptyJobName
	}
	if err := queue.ValidateName(name); err != nil {
		return nil, fmt.Errorf("%q: %w", name, err)
	}
	return &Definition[D]{name: name, token: TokenFor(name)}, nil
}

// MustNew is like New but panics on error. Meant for package-level variables.
func MustNew[D any](name string) *Definition[D] {
	d, err := New[D](name)
	if err != nil {
		panic(err)
	}
	return d
}

// Name returns the job name
func (d *Definition[D]) Name() string {
	return d.name
}

// Token returns the token the job's Sender is registered under
func (d *Definition[D]) Token() Token {
	return d.token
}

// Provider returns the descriptor a Container uses to build the job's Sender.
// The sender depends on the engine only.
func (d *Definition[D]) Provider() Provider {
	return Provider{
		Token:     d.token,
		DependsOn: []Token{EngineToken},
		Build: func(deps ...any) (any, error) {
			engine, ok := deps[0].(queue.Engine)
			if !ok {
				return nil, fmt.Errorf("%s: dependency %s is %T: %w", d.token, EngineToken, deps[0], ErrUnexpectedType)
			}
			return NewSender[D](d.name, engine), nil
		},
	}
}

// Inject resolves the job's Sender from c
func (d *Definition[D]) Inject(c *Container) (*Sender[D], error) {
	return ResolveAs[*Sender[D]](c, d.token)
}

// MustInject is like Inject but panics on error
func (d *Definition[D]) MustInject(c *Container) *Sender[D] {
	s, err := d.Inject(c)
	if err != nil {
		panic(err)
	}
	return s
}

func (d *Definition[D]) metadata(opts queue.WorkOptions) Metadata {
	return Metadata{
		Token:       d.token,
		JobName:     d.name,
		WorkOptions: opts,
	}
}
