package triage

import (
	"context"
	"errors"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/linnemanlabs/go-core/log"
	"github.com/oklog/ulid/v2"
)

// MaxComplaintRunes bounds the complaint length the service accepts.
const MaxComplaintRunes = 4000

const notifyTimeout = 15 * time.Second

// ErrComplaintTooLong is returned for complaints over MaxComplaintRunes.
var ErrComplaintTooLong = errors.New("complaint too long")

// Analysis is one served triage: the engine Result plus service metadata.
type Analysis struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	RedFlag   string    `json:"red_flag,omitempty"`
	Result
}

// Escalation is a red-flag analysis handed to a Notifier. It carries no
// complaint text.
type Escalation struct {
	AnalysisID string
	Label      string
	Reason     string
	Message    string
	Confidence float64
	Clinic     string
	CreatedAt  time.Time
}

// Notifier delivers escalations to on-call staff.
type Notifier interface {
	Send(ctx context.Context, esc *Escalation) error
}

// ServiceHooks are optional callbacks for observability.
type ServiceHooks struct {
	OnEscalation func(err error)
}

// Access is the answer to "can this patient book this clinic directly".
type Access struct {
	Clinic     string   `json:"clinic"`
	Known      bool     `json:"known"`
	Accessible bool     `json:"accessible"`
	Message    string   `json:"message"`
	PriorList  []string `json:"prior_list"`
}

// ClinicInfo describes one canonical clinic and its gate.
type ClinicInfo struct {
	Name          string   `json:"name"`
	Variants      []string `json:"variants"`
	Parent        string   `json:"parent,omitempty"`
	RequiresPrior bool     `json:"requires_prior"`
	PriorList     []string `json:"prior_list"`
}

// Service is the business boundary for triage operations.
type Service struct {
	engine   *Engine
	notifier Notifier
	logger   log.Logger
	hooks    ServiceHooks

	wg sync.WaitGroup
}

// NewService creates a new triage service. notifier may be nil.
func NewService(engine *Engine, notifier Notifier, logger log.Logger, hooks ServiceHooks) *Service {
	return &Service{
		engine:   engine,
		notifier: notifier,
		logger:   logger,
		hooks:    hooks,
	}
}

// Analyze runs the engine on a complaint and assigns the analysis an ID.
// Red-flag results are escalated asynchronously; the caller's cancellation
// does not abort a notification already under way.
func (s *Service) Analyze(ctx context.Context, complaint string) (*Analysis, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if utf8.RuneCountInString(complaint) > MaxComplaintRunes {
		return nil, ErrComplaintTooLong
	}

	id := ulid.Make().String()
	rep := s.engine.Run(ctx, complaint)

	a := &Analysis{
		ID:        id,
		CreatedAt: time.Now().UTC(),
		Result:    *rep.Result,
	}

	if rep.RedFlag.Urgent {
		a.RedFlag = rep.RedFlag.Label
		s.escalate(ctx, &Escalation{
			AnalysisID: id,
			Label:      rep.RedFlag.Label,
			Reason:     rep.RedFlag.Reason,
			Message:    rep.RedFlag.Message,
			Confidence: rep.RedFlag.Confidence,
			Clinic:     a.PrimaryClinic.Name,
			CreatedAt:  a.CreatedAt,
		})
	}

	return a, nil
}

func (s *Service) escalate(ctx context.Context, esc *Escalation) {
	if s.notifier == nil {
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
		defer cancel()

		err := s.notifier.Send(ctx, esc)
		if s.hooks.OnEscalation != nil {
			s.hooks.OnEscalation(err)
		}
		if err != nil {
			s.logger.Error(ctx, err, "escalation notification failed",
				"analysis_id", esc.AnalysisID,
				"label", esc.Label,
			)
			return
		}
		s.logger.Info(ctx, "escalation sent", "analysis_id", esc.AnalysisID, "label", esc.Label)
	}()
}

// Wait blocks until in-flight escalations finish or ctx is done.
func (s *Service) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CheckAccess resolves name and visited to canonical clinics and reports
// whether name can be booked without a referral.
func (s *Service) CheckAccess(name string, visited []string) *Access {
	table := s.engine.Table()
	gates := s.engine.Gates()

	canonical, known := name, false
	if m := table.Resolve(name); m.Matched {
		canonical, known = m.Name, true
	}

	resolved := make([]string, 0, len(visited))
	for _, v := range visited {
		if m := table.Resolve(v); m.Matched {
			resolved = append(resolved, m.Name)
		} else {
			resolved = append(resolved, v)
		}
	}

	ok, msg := gates.IsAccessible(canonical, resolved)
	return &Access{
		Clinic:     canonical,
		Known:      known,
		Accessible: ok,
		Message:    msg,
		PriorList:  gates.Apply(canonical).PriorList,
	}
}

// Clinics lists the canonical clinics in declaration order.
func (s *Service) Clinics() []ClinicInfo {
	entries := s.engine.Table().Entries()
	out := make([]ClinicInfo, 0, len(entries))
	for _, e := range entries {
		gate := s.engine.Gates().Apply(e.Name)
		variants := e.Variants
		if variants == nil {
			variants = []string{}
		}
		out = append(out, ClinicInfo{
			Name:          e.Name,
			Variants:      variants,
			Parent:        e.Parent,
			RequiresPrior: gate.RequiresPrior,
			PriorList:     gate.PriorList,
		})
	}
	return out
}
