package chat

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/GaryBoone/ai-critics/pkg/model"
)

// script describes what one attempt's stream does.
type script struct {
	openErr error
	chunks  []model.Chunk
	// recvErr is returned after the chunks instead of io.EOF.
	recvErr error
	// stall blocks after the chunks until the stream is closed.
	stall bool
}

// mockProvider plays one script per Stream call, repeating the last one.
type mockProvider struct {
	mu       sync.Mutex
	scripts  []script
	calls    int
	requests []model.Request
}

func (p *mockProvider) Name() string { return "mock" }

func (p *mockProvider) Stream(ctx context.Context, req model.Request) (model.ChunkStream, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	i := p.calls
	if i >= len(p.scripts) {
		i = len(p.scripts) - 1
	}
	p.calls++
	p.requests = append(p.requests, req)
	s := p.scripts[i]
	if s.openErr != nil {
		return nil, s.openErr
	}
	return &mockStream{script: s, closed: make(chan struct{})}, nil
}

func (p *mockProvider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type mockStream struct {
	script script
	next   int
	once   sync.Once
	closed chan struct{}
}

func (s *mockStream) Recv() (model.Chunk, error) {
	if s.next < len(s.script.chunks) {
		c := s.script.chunks[s.next]
		s.next++
		return c, nil
	}
	if s.script.stall {
		<-s.closed
		return model.Chunk{}, errors.New("stream closed")
	}
	if s.script.recvErr != nil {
		return model.Chunk{}, s.script.recvErr
	}
	return model.Chunk{}, io.EOF
}

func (s *mockStream) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

// text splits a response into chunks and ends it with a stop reason.
func text(parts ...string) []model.Chunk {
	out := make([]model.Chunk, 0, len(parts)+1)
	for _, p := range parts {
		out = append(out, model.Chunk{Text: p})
	}
	return append(out, model.Chunk{Reason: model.ReasonStop})
}

type countingProgress struct {
	incs, resets int
}

func (p *countingProgress) Inc()   { p.incs++ }
func (p *countingProgress) Reset() { p.resets++ }
