package analyzer

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/spf13/afero"

	"github.com/dshills/compliancebot/internal/providers"
)

type fakeClient struct {
	mu      sync.Mutex
	calls   int
	prompts []string
	reply   func(req providers.Request) (string, error)
}

func (c *fakeClient) Name() string { return "fake" }

func (c *fakeClient) Complete(ctx context.Context, req providers.Request) (providers.Response, error) {
	c.mu.Lock()
	c.calls++
	c.prompts = append(c.prompts, req.UserPrompt)
	c.mu.Unlock()
	if c.reply == nil {
		return providers.Response{Content: `{"findings":[]}`}, nil
	}
	content, err := c.reply(req)
	if err != nil {
		return providers.Response{}, err
	}
	return providers.Response{Content: content}, nil
}

func (c *fakeClient) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

type fakeEnv struct {
	fs      afero.Fs
	root    string
	outputs map[string]ExecResult
	execErr error
	ran     [][]string
	closed  bool
}

func (e *fakeEnv) Fs() afero.Fs { return e.fs }
func (e *fakeEnv) Root() string { return e.root }
func (e *fakeEnv) Close() error {
	e.closed = true
	return nil
}

func (e *fakeEnv) Exec(ctx context.Context, name string, args ...string) (ExecResult, error) {
	e.ran = append(e.ran, append([]string{name}, args...))
	if e.execErr != nil {
		return ExecResult{}, e.execErr
	}
	res, ok := e.outputs[name]
	if !ok {
		return ExecResult{}, errors.New("exec: " + name + ": not found")
	}
	return res, nil
}

func (e *fakeEnv) command(i int) string { return strings.Join(e.ran[i], " ") }

type fakeBackend struct {
	env       *fakeEnv
	createErr error
}

func (b *fakeBackend) Name() string { return "fake" }

func (b *fakeBackend) Create(ctx context.Context) (Environment, error) {
	if b.createErr != nil {
		return nil, b.createErr
	}
	return b.env, nil
}

func newFakeEnv() *fakeEnv {
	return &fakeEnv{fs: afero.NewMemMapFs(), root: "/workspace", outputs: map[string]ExecResult{}}
}
