package saga

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/codewandler/uow-go/core/domain"
	"github.com/codewandler/uow-go/core/metrics"
)

type step0 struct {
	Intermediate
	What string
}

type step1 struct {
	Intermediate
	What string
}

type finish interface {
	TerminalStep
	isFinish()
}

type finish0 struct {
	Terminal
	What string
}

func (finish0) isFinish() {}

type finish1 struct {
	Terminal
	What string
}

func (finish1) isFinish() {}

type foreignFinish struct{ Terminal }

type exceptionCall struct {
	current IntermediateStep
	err     error
}

// testSaga starts at first, or step0 tagged with the params, and asks
// succ for every successor.
type testSaga struct {
	first       Step
	succ        func(current IntermediateStep) (Step, error)
	initErr     func(run int) error
	onException func(current IntermediateStep, err error) (finish, error)

	inits      int
	exceptions []exceptionCall
}

type testParams struct{ Tag string }

func (s *testSaga) Init(_ context.Context, _ domain.Principal, in testParams) (Step, error) {
	s.inits++
	if s.initErr != nil {
		if err := s.initErr(s.inits); err != nil {
			return nil, err
		}
	}
	if s.first != nil {
		return s.first, nil
	}
	return step0{What: in.Tag}, nil
}

func (s *testSaga) Next(_ context.Context, _ domain.Principal, current IntermediateStep) (Step, error) {
	return s.succ(current)
}

// recovering adds OnException to testSaga.
type recovering struct{ *testSaga }

func (s recovering) OnException(_ context.Context, _ domain.Principal, _ testParams, current IntermediateStep, err error) (finish, error) {
	s.exceptions = append(s.exceptions, exceptionCall{current: current, err: err})
	return s.onException(current, err)
}

var principal = domain.MustPrincipal("svc-1", "payouts")

// transitions maps a step kind to its successor.
func transitions(next map[string]Step) func(IntermediateStep) (Step, error) {
	return func(current IntermediateStep) (Step, error) {
		var key string
		switch s := current.(type) {
		case step0:
			key = "step0:" + s.What
		case step1:
			key = "step1:" + s.What
		}
		st, ok := next[key]
		if !ok {
			return current, nil
		}
		return st, nil
	}
}

func TestResume_ReachesTerminal(t *testing.T) {
	s := &testSaga{succ: transitions(map[string]Step{
		"step0:go": step1{What: "a"},
		"step1:a":  finish0{What: "done"},
	})}

	got, err := NewRunner[testParams, finish](s).Resume(t.Context(), principal, testParams{Tag: "go"})
	require.NoError(t, err)
	require.Equal(t, finish0{What: "done"}, got)
}

func TestResume_InitCanFinish(t *testing.T) {
	s := &testSaga{first: finish1{What: "early"}, succ: transitions(nil)}

	got, err := NewRunner[testParams, finish](s).Resume(t.Context(), principal, testParams{})
	require.NoError(t, err)
	require.Equal(t, finish1{What: "early"}, got)
}

func TestResume_HaltsOnRevisitedStepKind(t *testing.T) {
	tests := []struct {
		name  string
		next  map[string]Step
		step  string
		trail []string
	}{
		{
			name:  "loop back to start",
			next:  map[string]Step{"step0:go": step1{What: "a"}, "step1:a": step0{What: "again"}},
			step:  "step0",
			trail: []string{"step0", "step1"},
		},
		{
			name:  "same kind with other data",
			next:  map[string]Step{"step0:go": step1{What: "a"}, "step1:a": step1{What: "b"}},
			step:  "step1",
			trail: []string{"step0", "step1"},
		},
		{
			name:  "self loop",
			next:  map[string]Step{},
			step:  "step0",
			trail: []string{"step0"},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := &testSaga{
				succ: transitions(tc.next),
				onException: func(IntermediateStep, error) (finish, error) {
					return finish0{What: "swallowed"}, nil
				},
			}

			_, err := NewRunner[testParams, finish](recovering{s}).Resume(t.Context(), principal, testParams{Tag: "go"})
			var halt *HaltError
			require.ErrorAs(t, err, &halt)
			require.ErrorIs(t, err, ErrHalt)
			require.Equal(t, tc.step, halt.Step)
			require.Equal(t, tc.trail, halt.Trail)
			require.Empty(t, s.exceptions, "a halt is never routed to OnException")
		})
	}
}

func TestResume_OnException(t *testing.T) {
	boom := errors.New("boom")

	t.Run("init failure has no current step", func(t *testing.T) {
		s := &testSaga{
			succ:        transitions(nil),
			initErr:     func(int) error { return boom },
			onException: func(IntermediateStep, error) (finish, error) { return finish1{What: "recovered"}, nil },
		}

		got, err := NewRunner[testParams, finish](recovering{s}).Resume(t.Context(), principal, testParams{Tag: "go"})
		require.NoError(t, err)
		require.Equal(t, finish1{What: "recovered"}, got)
		require.Len(t, s.exceptions, 1)
		require.Nil(t, s.exceptions[0].current)
		require.ErrorIs(t, s.exceptions[0].err, boom)
	})

	t.Run("next failure passes the current step", func(t *testing.T) {
		s := &testSaga{
			succ: func(current IntermediateStep) (Step, error) {
				if _, ok := current.(step1); ok {
					return nil, boom
				}
				return step1{What: "a"}, nil
			},
			onException: func(IntermediateStep, error) (finish, error) { return finish0{What: "recovered"}, nil },
		}

		got, err := NewRunner[testParams, finish](recovering{s}).Resume(t.Context(), principal, testParams{Tag: "go"})
		require.NoError(t, err)
		require.Equal(t, finish0{What: "recovered"}, got)
		require.Len(t, s.exceptions, 1)
		require.Equal(t, step1{What: "a"}, s.exceptions[0].current)
	})

	t.Run("rethrow by default", func(t *testing.T) {
		s := &testSaga{succ: transitions(nil), initErr: func(int) error { return boom }}

		_, err := NewRunner[testParams, finish](s).Resume(t.Context(), principal, testParams{})
		require.ErrorIs(t, err, boom)
	})

	t.Run("handler error is returned", func(t *testing.T) {
		wrapped := errors.New("gave up")
		s := &testSaga{
			succ:        transitions(nil),
			initErr:     func(int) error { return boom },
			onException: func(IntermediateStep, error) (finish, error) { return nil, wrapped },
		}

		_, err := NewRunner[testParams, finish](recovering{s}).Resume(t.Context(), principal, testParams{})
		require.ErrorIs(t, err, wrapped)
	})
}

func TestResume_Restart(t *testing.T) {
	boom := errors.New("transient")

	for name, restart := range map[string]func(IntermediateStep, error) (finish, error){
		"ErrRestart":   func(IntermediateStep, error) (finish, error) { return nil, ErrRestart },
		"nil terminal": func(IntermediateStep, error) (finish, error) { return nil, nil },
	} {
		t.Run(name, func(t *testing.T) {
			s := &testSaga{
				succ: transitions(map[string]Step{"step0:go": finish0{What: "second run"}}),
				initErr: func(run int) error {
					if run == 1 {
						return boom
					}
					return nil
				},
				onException: restart,
			}

			got, err := NewRunner[testParams, finish](recovering{s}).Resume(t.Context(), principal, testParams{Tag: "go"})
			require.NoError(t, err)
			require.Equal(t, finish0{What: "second run"}, got)
			require.Equal(t, 2, s.inits, "restart runs Init again with the same params")
		})
	}
}

func TestResume_MaxRestarts(t *testing.T) {
	s := &testSaga{
		succ:        transitions(nil),
		initErr:     func(int) error { return errors.New("always") },
		onException: func(IntermediateStep, error) (finish, error) { return nil, ErrRestart },
	}

	_, err := NewRunner[testParams, finish](recovering{s}, WithMaxRestarts(3)).Resume(t.Context(), principal, testParams{})
	require.ErrorIs(t, err, ErrTooManyRestarts)
	require.Equal(t, 4, s.inits)
}

func TestResume_RestartStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	s := &testSaga{
		succ:    transitions(nil),
		initErr: func(int) error { return errors.New("always") },
		onException: func(IntermediateStep, error) (finish, error) {
			cancel()
			return nil, ErrRestart
		},
	}

	_, err := NewRunner[testParams, finish](recovering{s}).Resume(ctx, principal, testParams{})
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, s.inits)
}

func TestResume_InvalidSteps(t *testing.T) {
	t.Run("nil successor", func(t *testing.T) {
		s := &testSaga{succ: func(current IntermediateStep) (Step, error) {
			if _, ok := current.(step0); ok {
				return step1{}, nil
			}
			return nil, nil
		}}
		_, err := NewRunner[testParams, finish](s).Resume(t.Context(), principal, testParams{})
		require.ErrorIs(t, err, ErrInvalidStep)
	})

	t.Run("terminal of another saga", func(t *testing.T) {
		s := &testSaga{succ: func(IntermediateStep) (Step, error) { return foreignFinish{}, nil }}
		_, err := NewRunner[testParams, finish](s).Resume(t.Context(), principal, testParams{})
		require.ErrorIs(t, err, ErrInvalidStep)
	})
}

type recordingMetrics struct {
	mu       sync.Mutex
	steps    []string
	restarts int
	outcomes []string
}

func (m *recordingMetrics) ResumeDuration(string) metrics.Timer { return metrics.NopTimer() }
func (m *recordingMetrics) Step(_, step string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.steps = append(m.steps, step)
}
func (m *recordingMetrics) Restarted(string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.restarts++
}
func (m *recordingMetrics) Finished(_, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes = append(m.outcomes, outcome)
}

func TestRunner_Observability(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	m := &recordingMetrics{}

	s := &testSaga{succ: transitions(map[string]Step{
		"step0:go": step1{What: "a"},
		"step1:a":  finish0{},
	})}
	r := NewRunner[testParams, finish](s, WithName("payout"), WithMetrics(m), WithTracer(tp.Tracer("test")))
	require.Equal(t, "payout", r.Name())

	_, err := r.Resume(t.Context(), principal, testParams{Tag: "go"})
	require.NoError(t, err)

	assert.Equal(t, []string{"step0", "step1", "finish0"}, m.steps)
	assert.Equal(t, []string{OutcomeOK}, m.outcomes)

	var names []string
	for _, sp := range rec.Ended() {
		names = append(names, sp.Name())
	}
	assert.ElementsMatch(t, []string{"saga.step step0", "saga.step step1", "saga payout"}, names)
}

type observed struct {
	saga      string
	step      TerminalStep
	principal string
}

func TestResume_Observers(t *testing.T) {
	var seen []observed
	obs := ObserverFunc(func(_ context.Context, saga string, step TerminalStep, p domain.Principal) {
		seen = append(seen, observed{saga: saga, step: step, principal: p.PrincipalID()})
	})
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))

	s := &testSaga{succ: transitions(map[string]Step{"step0:go": finish0{What: "done"}})}
	r := NewRunner[testParams, finish](s, WithName("payout"), WithObserver(obs, obs), WithTracer(tp.Tracer("test")))
	_, err := r.Resume(t.Context(), principal, testParams{Tag: "go"})
	require.NoError(t, err)

	want := observed{saga: "payout", step: finish0{What: "done"}, principal: "svc-1"}
	require.Equal(t, []observed{want, want}, seen, "every observer sees the terminal step")
	var names []string
	for _, sp := range rec.Ended() {
		names = append(names, sp.Name())
	}
	assert.Contains(t, names, "saga.terminal finish0")

	t.Run("recovered terminal steps are not observed", func(t *testing.T) {
		seen = nil
		s := &testSaga{
			succ:        transitions(nil),
			initErr:     func(int) error { return errors.New("boom") },
			onException: func(IntermediateStep, error) (finish, error) { return finish1{What: "recovered"}, nil },
		}
		_, err := NewRunner[testParams, finish](recovering{s}, WithObserver(obs)).Resume(t.Context(), principal, testParams{})
		require.NoError(t, err)
		require.Empty(t, seen)
	})
}

func TestRunner_DefaultName(t *testing.T) {
	r := NewRunner[testParams, finish](&testSaga{})
	require.Equal(t, "testSaga", r.Name())
}

type pointerStart struct{ Intermediate }

type pointerDone struct {
	Terminal
	Run int
}

// pointerSaga finishes with *pointerDone and fails Init on the first run.
type pointerSaga struct {
	inits   int
	recover func() (*pointerDone, error)
}

func (s *pointerSaga) Init(context.Context, domain.Principal, int) (Step, error) {
	s.inits++
	if s.inits == 1 {
		return nil, errors.New("transient")
	}
	return &pointerStart{}, nil
}

func (s *pointerSaga) Next(context.Context, domain.Principal, IntermediateStep) (Step, error) {
	return &pointerDone{Run: s.inits}, nil
}

func (s *pointerSaga) OnException(context.Context, domain.Principal, int, IntermediateStep, error) (*pointerDone, error) {
	return s.recover()
}

func TestResume_PointerTerminal(t *testing.T) {
	t.Run("nil pointer restarts", func(t *testing.T) {
		s := &pointerSaga{recover: func() (*pointerDone, error) { return nil, nil }}

		got, err := NewRunner[int, *pointerDone](s).Resume(t.Context(), principal, 1)
		require.NoError(t, err)
		require.Equal(t, &pointerDone{Run: 2}, got)
		require.Equal(t, 2, s.inits)
	})

	t.Run("non-nil pointer finishes", func(t *testing.T) {
		s := &pointerSaga{recover: func() (*pointerDone, error) { return &pointerDone{Run: -1}, nil }}

		got, err := NewRunner[int, *pointerDone](s).Resume(t.Context(), principal, 1)
		require.NoError(t, err)
		require.Equal(t, &pointerDone{Run: -1}, got)
		require.Equal(t, 1, s.inits)
	})
}
