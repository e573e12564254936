// Package fetcher runs the whole content pipeline (fetch, resolve,
// extract, locate, session construction) as one unit of work on a
// background goroutine, so the interactive front end never blocks on
// network or disk.
//
// A task communicates exclusively through its event channel: progress
// events in stage order, then exactly one terminal completed or failed
// event. Nothing that happens inside a task can take down the host
// process; every stage failure (and even a panic) is converted into a
// failed event. State owned by an interactive thread must only be mutated
// by the consumer of the channel, never by handing mutable objects to the
// worker.
package fetcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/scapworks/scapfetch/pkg/content"
	"github.com/scapworks/scapfetch/pkg/download"
	"github.com/scapworks/scapfetch/pkg/extract"
	"github.com/scapworks/scapfetch/pkg/file"
	"github.com/scapworks/scapfetch/pkg/scap"
	"github.com/scapworks/scapfetch/pkg/xccdf"
)

// Stage identifies a pipeline stage in progress events.
type Stage string

const (
	StageFetch   Stage = "fetch"
	StageResolve Stage = "resolve"
	StageExtract Stage = "extract"
	StageLocate  Stage = "locate"
	StageSession Stage = "session"
)

// EventType discriminates the three observable task events.
type EventType int

const (
	EventProgress EventType = iota
	EventCompleted
	EventFailed
)

// Event is one observable step of a fetch task. A Completed or Failed event
// is always the last event of its task.
type Event struct {
	Type     EventType
	Stage    Stage
	Fraction float64

	// Session is set on Completed events only.
	Session *xccdf.Session

	// Kind and Message are set on Failed events only.
	Kind    scap.ErrorKind
	Message string
}

// Request describes one content fetch.
type Request struct {
	Source scap.ContentSource
	Hints  content.Hints
	// ProfileID is the profile to select; empty selects the content's
	// declared default.
	ProfileID string
	// Tailoring, when non-nil, derives a tailored profile from the
	// kickstart rule deltas.
	Tailoring *scap.TailoringSelection
	// CACertPath optionally pins the CAs trusted for an https source.
	CACertPath string
	// FetchTimeout overrides the default network fetch bound.
	FetchTimeout time.Duration
	// WorkBaseDir is where per-fetch working directories are created;
	// empty means the system temp dir.
	WorkBaseDir string
}

// Task is one in-flight (or finished) fetch.
type Task struct {
	req    Request
	events chan Event
	done   chan struct{}
	cancel context.CancelFunc

	mu      sync.Mutex
	session *xccdf.Session
	err     error
	workDir string
}

// Fetcher starts fetch tasks and enforces that at most one task per content
// source is in flight: starting a new fetch for a source cancels the prior
// one and strictly happens-after its termination, so two tasks never share
// a working directory.
type Fetcher struct {
	mu       sync.Mutex
	inflight map[string]*Task
}

func New() *Fetcher {
	return &Fetcher{inflight: make(map[string]*Task)}
}

// Start launches a fetch task for the request and returns it immediately.
// The caller consumes Events until the terminal event.
func (f *Fetcher) Start(ctx context.Context, req Request) *Task {
	ctx, cancel := context.WithCancel(ctx)
	t := &Task{
		req:    req,
		events: make(chan Event, 16),
		done:   make(chan struct{}),
		cancel: cancel,
	}

	f.mu.Lock()
	prior := f.inflight[req.Source.URL]
	f.inflight[req.Source.URL] = t
	f.mu.Unlock()

	go func() {
		if prior != nil {
			prior.Cancel()
			<-prior.done
		}
		t.run(ctx)
		f.mu.Lock()
		if f.inflight[req.Source.URL] == t {
			delete(f.inflight, req.Source.URL)
		}
		f.mu.Unlock()
	}()
	return t
}

// Events returns the task's event channel. It is closed after the terminal
// event.
func (t *Task) Events() <-chan Event { return t.events }

// Cancel requests cooperative cancellation. The task stops between stages,
// not mid-entry, and emits a final failed(Cancelled) event.
func (t *Task) Cancel() { t.cancel() }

// Wait blocks until the task terminates and returns its session or error.
func (t *Task) Wait() (*xccdf.Session, error) {
	<-t.done
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.session, t.err
}

// WorkDir returns the task's working directory. After a completed event its
// ownership transfers to the caller, who must delete it; on failure or
// cancellation it is already gone.
func (t *Task) WorkDir() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.workDir
}

func (t *Task) run(ctx context.Context) {
	defer close(t.events)
	defer close(t.done)
	defer func() {
		// A background fetch failure must never take down the installer;
		// even a bug in a pipeline stage degrades to a failed event.
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("fetch task panicked")
			t.fail(fmt.Errorf("internal fetch error: %v", r))
		}
	}()

	session, err := t.pipeline(ctx)
	if err != nil {
		t.fail(err)
		return
	}

	t.mu.Lock()
	t.session = session
	t.mu.Unlock()
	t.events <- Event{Type: EventCompleted, Fraction: 1, Session: session}
}

func (t *Task) fail(err error) {
	t.mu.Lock()
	t.err = err
	workDir := t.workDir
	t.workDir = ""
	t.mu.Unlock()

	// Nothing from a failed or cancelled fetch is kept.
	if workDir != "" {
		if rmErr := os.RemoveAll(workDir); rmErr != nil {
			log.Error().Err(rmErr).Str("dir", workDir).Msg("failed to remove working directory")
		}
	}

	kind := scap.Kind(err)
	log.Warn().Err(err).Str("kind", string(kind)).Str("url", t.req.Source.URL).Msg("content fetch failed")
	t.events <- Event{Type: EventFailed, Kind: kind, Message: err.Error()}
}

// pipeline runs the stages in order, checking for cancellation between
// them.
func (t *Task) pipeline(ctx context.Context) (*xccdf.Session, error) {
	base := t.req.WorkBaseDir
	if base == "" {
		base = os.TempDir()
	}
	workDir, err := os.MkdirTemp(base, "scapfetch-*")
	if err != nil {
		return nil, fmt.Errorf("create fetch directory: %w", err)
	}
	t.mu.Lock()
	t.workDir = workDir
	t.mu.Unlock()

	// fetch
	t.progress(StageFetch, 0.1)
	contentFile := filepath.Join(workDir, file.NameFromURL(t.req.Source.URL, "content"))
	if _, err := download.Fetch(ctx, t.req.Source, contentFile, download.Options{
		Timeout:    t.req.FetchTimeout,
		CACertPath: t.req.CACertPath,
	}); err != nil {
		return nil, err
	}
	if err := t.checkCancelled(ctx); err != nil {
		return nil, err
	}

	// resolve
	t.progress(StageResolve, 0.35)
	src, err := os.Open(contentFile)
	if err != nil {
		return nil, fmt.Errorf("open fetched content: %w", err)
	}
	typ, err := content.Resolve(t.req.Source, src)
	if err != nil {
		src.Close()
		return nil, err
	}
	log.Debug().Stringer("type", typ).Str("url", t.req.Source.URL).Msg("content resolved")
	if err := t.checkCancelled(ctx); err != nil {
		src.Close()
		return nil, err
	}

	// extract
	root := workDir
	var entries []string
	if typ.IsArchive() {
		t.progress(StageExtract, 0.55)
		result, err := extract.Extract(src, typ, workDir)
		src.Close()
		if err != nil {
			return nil, err
		}
		root, entries = result.Dir, result.Entries
	} else {
		src.Close()
		if entries, err = content.ListDir(workDir); err != nil {
			return nil, err
		}
	}
	if err := t.checkCancelled(ctx); err != nil {
		return nil, err
	}

	// locate
	t.progress(StageLocate, 0.75)
	paths, err := content.Locate(root, entries, typ, t.req.Hints)
	if err != nil {
		return nil, err
	}
	if err := t.checkCancelled(ctx); err != nil {
		return nil, err
	}

	// session
	t.progress(StageSession, 0.9)
	session := xccdf.NewSession(paths)
	if err := session.Load(); err != nil {
		return nil, err
	}
	if err := session.AttachTailoring(); err != nil {
		return nil, err
	}
	if t.req.Tailoring != nil {
		if err := session.ApplyTailoring(*t.req.Tailoring, root); err != nil {
			return nil, err
		}
	}
	if err := session.SelectProfile(t.req.ProfileID); err != nil {
		return nil, err
	}
	if err := session.Validate(); err != nil {
		return nil, err
	}
	return session, nil
}

func (t *Task) progress(stage Stage, fraction float64) {
	t.events <- Event{Type: EventProgress, Stage: stage, Fraction: fraction}
}

func (t *Task) checkCancelled(ctx context.Context) error {
	if ctx.Err() != nil {
		return scap.ErrCancelled
	}
	return nil
}
