package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	ErrSessionNotFound  = errors.New("session not found")
	ErrCreationRejected = errors.New("session creation rejected")
	ErrJoinRejected     = errors.New("session join rejected")
	ErrJoinTimeout      = errors.New("session join timed out")
	ErrNotJoined        = errors.New("session not joined")
	ErrNoAdminSecret    = errors.New("no admin secret for session")
	ErrInvalidSessionID = errors.New("invalid session id")
	ErrChannelErrored   = errors.New("session channel errored")
	ErrChannelClosed    = errors.New("session channel closed by server")
)

// Options tunes a Directory
type Options struct {
	// JoinPollInterval is the delay between joined checks
	JoinPollInterval time.Duration

	// JoinMaxAttempts is the number of joined checks before giving up
	JoinMaxAttempts int

	// CreateTimeout bounds the create round trip when the caller's context
	// has no deadline. Zero disables it.
	CreateTimeout time.Duration

	// AutoClaimAdmin sends become_admin right after joining a session with a
	// stored secret
	AutoClaimAdmin bool
}

// DefaultOptions returns the options used when none are configured
func DefaultOptions() Options {
	return Options{
		JoinPollInterval: 10 * time.Millisecond,
		JoinMaxAttempts:  100,
		CreateTimeout:    10 * time.Second,
		AutoClaimAdmin:   true,
	}
}

// Directory owns the shared transport and every session joined through it
type Directory struct {
	transport Transport
	secrets   SecretStore
	opts      Options
	logger    zerolog.Logger

	connectMu sync.Mutex

	mu       sync.RWMutex
	sessions map[string]*Session

	// watchMu orders watch changes with session replacement. Taken before mu.
	watchMu sync.Mutex
	watches map[string]map[*watch]struct{}
}

// watch follows whichever session is registered under an id
type watch struct {
	listener    func(Event)
	unsubscribe func()
}

// NewDirectory creates a directory. A nil secrets store keeps secrets in memory.
func NewDirectory(transport Transport, secrets SecretStore, logger zerolog.Logger, opts Options) *Directory {
	defaults := DefaultOptions()
	if opts.JoinPollInterval <= 0 {
		opts.JoinPollInterval = defaults.JoinPollInterval
	}
	if opts.JoinMaxAttempts <= 0 {
		opts.JoinMaxAttempts = defaults.JoinMaxAttempts
	}
	if secrets == nil {
		secrets = NewMemorySecretStore()
	}

	d := &Directory{
		transport: transport,
		secrets:   secrets,
		opts:      opts,
		logger:    logger.With().Str("component", "directory").Logger(),
		sessions:  make(map[string]*Session),
		watches:   make(map[string]map[*watch]struct{}),
	}

	transport.OnClose(d.handleDisconnect)

	return d
}

// Secrets returns the store holding admin secrets
func (d *Directory) Secrets() SecretStore { return d.secrets }

// connect dials the transport on first use
func (d *Directory) connect(ctx context.Context) error {
	d.connectMu.Lock()
	defer d.connectMu.Unlock()

	if err := d.transport.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	return nil
}

// CreateSession asks the server for a new session named sessionName, then
// joins it as userName. The issued admin secret is stored and remembered.
func (d *Directory) CreateSession(ctx context.Context, sessionName, userName string) (*Session, error) {
	createCtx := ctx
	if _, ok := ctx.Deadline(); !ok && d.opts.CreateTimeout > 0 {
		var cancel context.CancelFunc
		createCtx, cancel = context.WithTimeout(ctx, d.opts.CreateTimeout)
		defer cancel()
	}

	if err := d.connect(createCtx); err != nil {
		return nil, err
	}

	created, err := d.negotiate(createCtx, sessionName)
	if err != nil {
		return nil, err
	}

	d.logger.Info().
		Str("name", sessionName).
		Str("session", created.ID).
		Msg("session created")

	if err := d.secrets.Save(created.ID, created.Password); err != nil {
		d.logger.Warn().Err(err).Str("session", created.ID).Msg("failed to store admin secret")
	}

	return d.join(ctx, created.ID, userName, created.Password)
}

// Created is the lobby's answer to a create request
type Created struct {
	ID       string `json:"uuid"`
	Password string `json:"password"`
}

type createResult struct {
	created Created
	err     error
}

// negotiate runs the create exchange on the lobby channel. The lobby channel
// is left on every path.
func (d *Directory) negotiate(ctx context.Context, sessionName string) (Created, error) {
	lobby := d.transport.Channel(LobbyTopic, nil)
	defer func() {
		if err := lobby.Leave(); err != nil {
			d.logger.Debug().Err(err).Msg("failed to leave lobby")
		}
	}()

	result := make(chan createResult, 1)
	deliver := func(r createResult) {
		select {
		case result <- r:
		default:
		}
	}

	lobby.On(EventCreated, func(payload json.RawMessage) {
		var created Created
		if err := json.Unmarshal(payload, &created); err != nil {
			deliver(createResult{err: fmt.Errorf("%w: malformed created payload: %v", ErrCreationRejected, err)})
			return
		}
		if err := ValidateSessionID(created.ID); err != nil {
			deliver(createResult{err: fmt.Errorf("%w: %v", ErrCreationRejected, err)})
			return
		}
		deliver(createResult{created: created})
	})
	lobby.On(EventError, func(payload json.RawMessage) {
		deliver(createResult{err: fmt.Errorf("%w: %s", ErrCreationRejected, describeReason(payload))})
	})

	err := lobby.Join(func(reason json.RawMessage) {
		deliver(createResult{err: fmt.Errorf("%w: lobby join: %s", ErrCreationRejected, describeReason(reason))})
	})
	if err != nil {
		return Created{}, fmt.Errorf("%w: %v", ErrCreationRejected, err)
	}

	if err := lobby.Push(EventCreate, map[string]string{"name": sessionName}); err != nil {
		return Created{}, fmt.Errorf("failed to send create: %w", err)
	}

	select {
	case r := <-result:
		return r.created, r.err
	case <-ctx.Done():
		return Created{}, fmt.Errorf("create session %q: %w", sessionName, ctx.Err())
	}
}

// JoinSession joins an existing session as userName. A session already joined
// and live is returned as is; a stale or failed one is replaced.
func (d *Directory) JoinSession(ctx context.Context, sessionID, userName string) (*Session, error) {
	if err := ValidateSessionID(sessionID); err != nil {
		return nil, err
	}

	if s, err := d.Get(sessionID); err == nil && s.Status() == StatusJoined && !s.Stale() {
		return s, nil
	}

	secret, err := d.secrets.Load(sessionID)
	if err != nil && !errors.Is(err, ErrNoSecret) {
		d.logger.Warn().Err(err).Str("session", sessionID).Msg("failed to load admin secret")
	}

	if err := d.connect(ctx); err != nil {
		return nil, err
	}

	return d.join(ctx, sessionID, userName, secret)
}

func (d *Directory) join(ctx context.Context, sessionID, userName, secret string) (*Session, error) {
	s := newSession(sessionID, userName, secret, d.logger)

	err := s.join(ctx, d.transport, JoinOptions{
		PollInterval: d.opts.JoinPollInterval,
		MaxAttempts:  d.opts.JoinMaxAttempts,
	})
	if err != nil {
		d.logger.Warn().Err(err).Str("session", sessionID).Msg("join failed")
		return nil, err
	}

	d.register(s)

	if secret != "" && d.opts.AutoClaimAdmin {
		if err := s.BecomeAdmin(""); err != nil {
			d.logger.Warn().Err(err).Str("session", sessionID).Msg("failed to claim admin")
		}
	}

	return s, nil
}

// register stores s under its id, releasing any session it replaces and
// moving watches over to it
func (d *Directory) register(s *Session) {
	d.watchMu.Lock()
	defer d.watchMu.Unlock()

	d.mu.Lock()
	previous := d.sessions[s.ID()]
	d.sessions[s.ID()] = s
	d.mu.Unlock()

	if previous != nil && previous != s {
		previous.release()
	}

	for w := range d.watches[s.ID()] {
		if w.unsubscribe != nil {
			w.unsubscribe()
		}
		w.unsubscribe = s.Subscribe(w.listener)
	}
}

// Watch subscribes listener to the session registered under sessionID and to
// any session that later replaces it after a rejoin
func (d *Directory) Watch(sessionID string, listener func(Event)) (unsubscribe func(), err error) {
	d.watchMu.Lock()
	defer d.watchMu.Unlock()

	s, err := d.Get(sessionID)
	if err != nil {
		return nil, err
	}

	w := &watch{listener: listener, unsubscribe: s.Subscribe(listener)}
	if d.watches[sessionID] == nil {
		d.watches[sessionID] = make(map[*watch]struct{})
	}
	d.watches[sessionID][w] = struct{}{}

	return func() {
		d.watchMu.Lock()
		defer d.watchMu.Unlock()

		watches, ok := d.watches[sessionID]
		if !ok {
			return
		}
		if _, ok := watches[w]; !ok {
			return
		}
		delete(watches, w)
		if len(watches) == 0 {
			delete(d.watches, sessionID)
		}
		w.unsubscribe()
	}, nil
}

// Get returns a registered session
func (d *Directory) Get(sessionID string) (*Session, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	s, ok := d.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return s, nil
}

// List returns every registered session ordered by id
func (d *Directory) List() []*Session {
	d.mu.RLock()
	sessions := make([]*Session, 0, len(d.sessions))
	for _, s := range d.sessions {
		sessions = append(sessions, s)
	}
	d.mu.RUnlock()

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].ID() < sessions[j].ID()
	})
	return sessions
}

// Count returns the number of registered sessions
func (d *Directory) Count() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.sessions)
}

func (d *Directory) handleDisconnect(err error) {
	for _, s := range d.List() {
		s.markStale(err)
	}
}
