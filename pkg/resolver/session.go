// SPDX-License-Identifier: MPL-2.0

package resolver

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/circkit/circpkg/internal/metrics"
	"github.com/circkit/circpkg/pkg/graph"
	"github.com/circkit/circpkg/pkg/manifest"
	"github.com/circkit/circpkg/pkg/report"
)

const (
	StateParsing   State = "parsing"
	StateExpanding State = "expanding"
	StateSelecting State = "selecting"
	StateOrdering  State = "ordering"
	StateDone      State = "done"
	StateFailed    State = "failed"
)

// ErrSessionUsed is returned when Run is called on a session that already ran.
var ErrSessionUsed = errors.New("session already ran")

// next lists the forward transition of each non-terminal state. Every non-terminal state
// may also move to StateFailed.
var next = map[State]State{
	StateParsing:   StateExpanding,
	StateExpanding: StateSelecting,
	StateSelecting: StateOrdering,
	StateOrdering:  StateDone,
}

type (
	// State is a phase of a resolution session.
	State string

	// Transition records one state change.
	Transition struct {
		From State
		To   State
		At   time.Time
	}

	// Session drives one resolution: parse the root manifest, expand the graph, select
	// versions, order packages, and build the report. A Session runs once.
	Session struct {
		ID      uuid.UUID
		Builder *graph.Builder
		// FS reads the root manifest. Nil means the OS filesystem.
		FS      afero.Fs
		Logger  *log.Logger
		Metrics *metrics.Metrics

		now         func() time.Time
		mu          sync.Mutex
		state       State
		transitions []Transition
		ran         bool
	}

	// Result is everything a successful session produced.
	Result struct {
		Root     *manifest.Descriptor
		Graph    *graph.Graph
		Resolved *ResolvedGraph
		Report   *report.Report
	}
)

// IsTerminal reports whether no further transitions are allowed from s.
func (s State) IsTerminal() bool { return s == StateDone || s == StateFailed }

// NewSession returns a session in StateParsing with a fresh resolution ID.
func NewSession(b *graph.Builder) *Session {
	return &Session{
		ID:      uuid.New(),
		Builder: b,
		now:     time.Now,
		state:   StateParsing,
	}
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Transitions returns the state changes so far, oldest first.
func (s *Session) Transitions() []Transition {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Transition, len(s.transitions))
	copy(out, s.transitions)
	return out
}

// Advance moves the session to to. Only the forward transition of the current state or
// StateFailed is accepted; terminal states accept nothing.
func (s *Session) Advance(to State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	from := s.state
	if from.IsTerminal() || (to != StateFailed && next[from] != to) {
		return &InvalidTransitionError{From: from, To: to}
	}
	s.state = to
	s.transitions = append(s.transitions, Transition{From: from, To: to, At: s.now()})
	return nil
}

// Run resolves the package whose manifest is at manifestPath.
func (s *Session) Run(ctx context.Context, manifestPath string) (*Result, error) {
	s.mu.Lock()
	if s.ran {
		s.mu.Unlock()
		return nil, ErrSessionUsed
	}
	s.ran = true
	s.mu.Unlock()

	start := s.now()
	res, err := s.run(ctx, manifestPath)
	s.Metrics.ObserveResolution(s.now().Sub(start), err == nil)
	if err != nil {
		// The failure is what callers need; a rejected transition here adds nothing.
		_ = s.Advance(StateFailed)
		s.logger().Debug("resolution failed", "resolution", s.ID, "state", s.State(), "kind", Kind(err), "err", err)
		return nil, err
	}
	return res, nil
}

func (s *Session) run(ctx context.Context, manifestPath string) (*Result, error) {
	logger := s.logger().With("resolution", s.ID)

	root, err := manifest.ParseFile(s.fs(), manifestPath)
	if err != nil {
		return nil, err
	}
	if err := s.Advance(StateExpanding); err != nil {
		return nil, err
	}
	logger.Debug("expanding", "name", root.Name, "version", root.Version)

	g, err := s.Builder.Build(ctx, root)
	if err != nil {
		return nil, err
	}
	if err := s.Advance(StateSelecting); err != nil {
		return nil, err
	}
	logger.Debug("selecting", "nodes", len(g.Nodes), "edges", len(g.Edges))

	sel, err := selectVersions(ctx, g)
	if err != nil {
		return nil, err
	}
	if err := s.Advance(StateOrdering); err != nil {
		return nil, err
	}

	rg, err := order(ctx, g, sel)
	if err != nil {
		return nil, err
	}
	if err := s.Advance(StateDone); err != nil {
		return nil, err
	}
	logger.Info("resolved", "name", root.Name, "packages", len(rg.Order))

	return &Result{Root: root, Graph: g, Resolved: rg, Report: NewReport(s.ID.String(), rg)}, nil
}

// NewReport converts a resolved graph into the report handed to the compiler driver.
func NewReport(id string, rg *ResolvedGraph) *report.Report {
	r := &report.Report{
		ResolutionID: id,
		Root:         string(rg.Root),
		Diagnostics:  rg.Diagnostics,
	}
	for _, p := range rg.InOrder() {
		deps := make([]string, len(p.Dependencies))
		for i, d := range p.Dependencies {
			deps[i] = string(d)
		}
		r.Packages = append(r.Packages, report.Package{
			Name:         string(p.Name),
			Version:      p.Version.String(),
			LocalPath:    p.LocalPath,
			Source:       p.Key.Source,
			Fingerprint:  string(p.Fingerprint),
			Dependencies: deps,
		})
	}
	return r
}

func (s *Session) fs() afero.Fs {
	if s.FS == nil {
		return afero.NewOsFs()
	}
	return s.FS
}

func (s *Session) logger() *log.Logger {
	if s.Logger == nil {
		return log.New(io.Discard)
	}
	return s.Logger
}
