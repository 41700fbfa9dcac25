// Package sessions owns running matches: slot occupancy, the phase state
// machine, the fixed-rate tick driver, and session-wide broadcast. Each
// session is fully independent; nothing here locks across sessions.
package sessions

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/margaritaradeva/OvercookedAI/pkg/protocol"
	"github.com/margaritaradeva/OvercookedAI/pkg/utils"
	"github.com/margaritaradeva/OvercookedAI/svc/kitchen/sim"

	"github.com/google/uuid"
	opt "github.com/repeale/fp-go/option"
	"github.com/sasha-s/go-deadlock"
)

type Mode byte

const (
	ModeStandard Mode = iota
	ModeTutorial
	ModePredefined
)

func (m Mode) String() string {
	switch m {
	case ModeTutorial:
		return "tutorial"
	case ModePredefined:
		return "predefined"
	}
	return "standard"
}

type Status byte

const (
	StatusLobby Status = iota
	StatusActive
	StatusResetting
	StatusEnded
)

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusResetting:
		return "resetting"
	case StatusEnded:
		return "ended"
	}
	return "lobby"
}

type RuleKind byte

const (
	// The phase ends when its time limit elapses.
	RuleTimeLimit RuleKind = iota
	// The phase ends on the first positive human score.
	RuleAnyScore
	// The phase ends when a single delivery earns exactly Score points.
	RuleExactScore
)

// Rule decides when a phase is over and the session advances (or ends, on
// the final phase).
type Rule struct {
	Kind    RuleKind
	Seconds int
	Score   int
}

// Phase pairs one layout with the rule that ends it.
type Phase struct {
	Params sim.LayoutParams
	Rule   Rule
}

// Request carries everything needed to construct a session. Immutable once
// submitted.
type Request struct {
	GameName         string
	Mode             Mode
	Phases           []Phase
	PlayerZero       string
	PlayerOne        string
	DataCollection   bool
	CreateIfNotFound bool
}

func (r Request) PlayerCount() int {
	if len(r.Phases) == 0 {
		return 0
	}
	return r.Phases[0].Params.Players
}

// CompatKey buckets standard requests that can share a lobby. Tutorial and
// predefined sessions are never matched with strangers.
func (r Request) CompatKey() string {
	if r.Mode != ModeStandard {
		return ""
	}

	parts := []string{r.GameName}
	for _, phase := range r.Phases {
		parts = append(
			parts,
			phase.Params.Layout,
			strconv.Itoa(phase.Rule.Seconds),
		)
	}
	parts = append(parts, r.PlayerZero, r.PlayerOne)

	return strings.Join(parts, "|")
}

// Result is published when a session ends.
type Result struct {
	SessionID string
	Mode      Mode
	Status    string
	Score     int
	Duration  time.Duration
}

// TrajectoryRecord is one recorded phase handed to the trajectory sink.
type TrajectoryRecord struct {
	SessionID string
	Phase     int
	Layout    string
	GameType  string
	Data      *protocol.GameData
}

type TrajectorySink interface {
	SaveTrajectory(ctx context.Context, record TrajectoryRecord) error
}

type SummarySink interface {
	SaveSummary(ctx context.Context, result Result) error
}

type Settings struct {
	TickRate     int
	MaxGames     int
	MaxGameTime  int
	ResetTimeout time.Duration
}

type Manager struct {
	utils.Session

	settings Settings
	registry *sim.Registry

	// Optional telemetry sinks; sessions write to them off the tick path.
	Trajectories TrajectorySink
	Summaries    SummarySink

	mutex    deadlock.Mutex
	sessions map[string]*GameSession
	results  *utils.Topic[Result]
}

func NewManager(ctx context.Context, registry *sim.Registry, settings Settings) *Manager {
	return &Manager{
		Session:  utils.NewSession(ctx),
		settings: settings,
		registry: registry,
		sessions: make(map[string]*GameSession),
		results:  utils.NewTopic[Result](),
	}
}

func (m *Manager) Results() *utils.Topic[Result] {
	return m.results
}

func (m *Manager) Count() int {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return len(m.sessions)
}

func (m *Manager) Get(id string) opt.Option[*GameSession] {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if session, ok := m.sessions[id]; ok {
		return opt.Some(session)
	}

	return opt.None[*GameSession]()
}

func (m *Manager) Sessions() []*GameSession {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	sessions := make([]*GameSession, 0, len(m.sessions))
	for _, session := range m.sessions {
		sessions = append(sessions, session)
	}
	return sessions
}

// NewSession constructs a session in the lobby state. The adapter is built
// and the first phase validated up front so invalid requests fail here,
// before anyone is seated.
func (m *Manager) NewSession(request Request) (*GameSession, error) {
	if len(request.Phases) == 0 {
		return nil, errors.New("request has no phases")
	}

	if m.settings.MaxGameTime > 0 {
		for _, phase := range request.Phases {
			if phase.Rule.Seconds > m.settings.MaxGameTime {
				return nil, fmt.Errorf(
					"game time %ds exceeds the maximum of %ds",
					phase.Rule.Seconds,
					m.settings.MaxGameTime,
				)
			}
		}
	}

	m.mutex.Lock()
	atCapacity := len(m.sessions) >= m.settings.MaxGames
	m.mutex.Unlock()

	if atCapacity {
		return nil, errors.New("server at max capacity")
	}

	constructor := m.registry.Find(request.GameName)
	if opt.IsNone(constructor) {
		return nil, fmt.Errorf("unknown game %q", request.GameName)
	}

	adapter := constructor.Value()
	if _, err := adapter.Reset(request.Phases[0].Params); err != nil {
		return nil, fmt.Errorf("invalid parameters: %w", err)
	}

	session, err := newGameSession(m, request, adapter)
	if err != nil {
		return nil, err
	}

	m.mutex.Lock()
	m.sessions[session.Id] = session
	m.mutex.Unlock()

	logger := session.Logger()
	logger.Info().Msg("session created")

	return session, nil
}

func (m *Manager) remove(session *GameSession) {
	m.mutex.Lock()
	delete(m.sessions, session.Id)
	m.mutex.Unlock()
}

// Shutdown forcibly ends every session so no client is left hanging.
func (m *Manager) Shutdown() {
	for _, session := range m.Sessions() {
		session.End(protocol.StatusInactive)
	}
	m.Cancel()
}

func newSessionID() string {
	return uuid.NewString()
}
