// Package session wires one Pinboard client, offline queue and library per
// credential. Sessions are created on demand and live until Close, or until
// Pinboard rejects their credential.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/MrSnakeDoc/pinbook/internal/cache"
	"github.com/MrSnakeDoc/pinbook/internal/domain"
	"github.com/MrSnakeDoc/pinbook/internal/library"
	"github.com/MrSnakeDoc/pinbook/internal/logger"
	"github.com/MrSnakeDoc/pinbook/internal/offline"
	"github.com/MrSnakeDoc/pinbook/internal/pinboard"
	"github.com/MrSnakeDoc/pinbook/internal/prefs"
	"github.com/MrSnakeDoc/pinbook/internal/retry"
	"github.com/MrSnakeDoc/pinbook/internal/storage"
)

var (
	// ErrNoCredential is returned when neither the request nor the state
	// file carries a credential.
	ErrNoCredential = errors.New("no pinboard credential")
	// ErrInvalidCredential is returned by Login when Pinboard rejects the token.
	ErrInvalidCredential = errors.New("pinboard rejected the credential")
)

type Options struct {
	PinboardBaseURL string
	PinboardTimeout time.Duration
	SnapshotMaxAge  time.Duration
	ReadRetry       retry.Policy
	QueueMaxRetries int
	DrainTimeout    time.Duration

	Cache     *cache.Cache
	Snapshots *storage.Snapshots
	Queue     storage.QueueStore
	Monitor   *offline.Monitor
	Prefs     *prefs.File
	Notes     *library.Notes
	HTTP      *http.Client
	Logger    logger.Logger
}

// Session is everything bound to one credential.
type Session struct {
	Owner    string // sha256 of the credential
	Username string
	Client   *pinboard.Client
	Queue    *offline.Queue
	Library  *library.Library

	unsubscribe func()
}

type Manager struct {
	opts Options
	log  logger.Logger

	mu       sync.Mutex
	sessions map[string]*Session // owner -> session
}

func NewManager(opts Options) *Manager {
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = time.Minute
	}
	if opts.Notes == nil {
		opts.Notes = library.NewNotes()
	}
	return &Manager{
		opts:     opts,
		log:      opts.Logger,
		sessions: make(map[string]*Session),
	}
}

// Get returns the session of credential, creating it on first use.
func (m *Manager) Get(credential string) (*Session, error) {
	if credential == "" {
		return nil, ErrNoCredential
	}
	owner := domain.HashCredential(credential)

	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[owner]; ok {
		return s, nil
	}
	s, err := m.build(owner, credential)
	if err != nil {
		return nil, err
	}
	m.sessions[owner] = s
	m.log.Debug("session created", logger.String("user", s.Username))
	return s, nil
}

func (m *Manager) build(owner, credential string) (*Session, error) {
	o := m.opts
	log := m.log.With(logger.String("user", domain.UsernameFromToken(credential)))
	var s *Session

	pinOpts := pinboard.Options{
		BaseURL:        o.PinboardBaseURL,
		Token:          credential,
		HTTP:           o.HTTP,
		Timeout:        o.PinboardTimeout,
		ReadRetry:      o.ReadRetry,
		SnapshotMaxAge: o.SnapshotMaxAge,
		Logger:         log,
		OnRejected:     func() { m.evict(s) },
	}
	// a nil *Monitor or *Snapshots must not become a non-nil interface
	if o.Monitor != nil {
		pinOpts.Connectivity = o.Monitor
	}
	if o.Snapshots != nil {
		pinOpts.Snapshots = o.Snapshots
	}
	client, err := pinboard.New(pinOpts)
	if err != nil {
		return nil, err
	}

	idx := library.NewIndex()
	var lib *library.Library

	qOpts := offline.Options{
		Owner:      owner,
		MaxRetries: o.QueueMaxRetries,
		Logger:     log,
		OnDone:     func(ctx context.Context, a domain.QueuedAction) { lib.Confirm(ctx, a) },
		OnDropped: func(a domain.QueuedAction, err error) {
			log.Warn("edit abandoned after retries",
				logger.String("id", a.ID),
				logger.String("type", string(a.Type)),
				logger.Error(err))
		},
	}
	if o.Monitor != nil {
		qOpts.Connectivity = o.Monitor
	}
	queue := offline.NewQueue(o.Queue, library.NewExecutor(client, idx.All), qOpts)

	var folders library.Folders
	if o.Prefs != nil {
		folders = o.Prefs
	}
	lib = library.New(library.Options{
		Owner:   owner,
		Remote:  client,
		Cache:   o.Cache,
		Queue:   queue,
		Index:   idx,
		Folders: folders,
		Notes:   o.Notes,
		Logger:  log,
	})

	s = &Session{
		Owner:    owner,
		Username: client.Username(),
		Client:   client,
		Queue:    queue,
		Library:  lib,
	}
	if o.Monitor != nil {
		s.unsubscribe = o.Monitor.Subscribe(func() { m.drain(s) })
	}
	return s, nil
}

// drain replays the queue of s in the background after a reconnect.
func (m *Manager) drain(s *Session) {
	ctx, cancel := context.WithTimeout(context.Background(), m.opts.DrainTimeout)
	defer cancel()
	if _, err := s.Queue.Drain(ctx); err != nil {
		m.log.Warn("queue drain after reconnect failed", logger.String("user", s.Username), logger.Error(err))
	}
}

// Client returns the Pinboard client of credential.
func (m *Manager) Client(credential string) (*pinboard.Client, error) {
	s, err := m.Get(credential)
	if err != nil {
		return nil, err
	}
	return s.Client, nil
}

// Resolve picks the request credential, falling back to the saved one.
func (m *Manager) Resolve(credential string) (*Session, error) {
	if credential != "" {
		return m.Get(credential)
	}
	if m.opts.Prefs != nil {
		if auth, ok := m.opts.Prefs.Credential(); ok {
			return m.Get(auth.Token)
		}
	}
	return nil, ErrNoCredential
}

// Login validates credential against Pinboard and saves it as the default.
func (m *Manager) Login(ctx context.Context, credential string) (*Session, error) {
	if !domain.LooksLikeAPIToken(credential) {
		return nil, fmt.Errorf("%w: token must look like user:TOKEN", domain.ErrValidation)
	}
	s, err := m.Get(credential)
	if err != nil {
		return nil, err
	}
	ok, err := s.Client.ValidateCredential(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		m.forget(s.Owner)
		return nil, ErrInvalidCredential
	}
	if m.opts.Prefs != nil {
		if err := m.opts.Prefs.SetCredential(prefs.Auth{Token: credential, Username: s.Username}); err != nil {
			return nil, fmt.Errorf("save credential: %w", err)
		}
	}
	m.log.Info("🔑 signed in", logger.String("user", s.Username))
	return s, nil
}

// Logout forgets the saved credential. Queued edits stay on disk and are
// replayed on the next login.
func (m *Manager) Logout() error {
	if m.opts.Prefs == nil {
		return nil
	}
	auth, ok := m.opts.Prefs.Credential()
	if !ok {
		return nil
	}
	if err := m.opts.Prefs.ClearCredential(); err != nil {
		return err
	}
	m.forget(domain.HashCredential(auth.Token))
	return nil
}

// evict drops s once Pinboard has rejected its credential, so unknown
// tokens do not pile up. Queued edits stay on disk.
func (m *Manager) evict(s *Session) {
	m.mu.Lock()
	current, ok := m.sessions[s.Owner]
	if !ok || current != s {
		m.mu.Unlock()
		return
	}
	delete(m.sessions, s.Owner)
	m.mu.Unlock()

	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	m.log.Info("session dropped, credential rejected", logger.String("user", s.Username))
}

func (m *Manager) forget(owner string) {
	m.mu.Lock()
	s, ok := m.sessions[owner]
	delete(m.sessions, owner)
	m.mu.Unlock()

	if ok && s.unsubscribe != nil {
		s.unsubscribe()
	}
}

// Restore recreates the session of the saved credential, if any, so its
// queue is drained without waiting for a request.
func (m *Manager) Restore() (*Session, bool, error) {
	if m.opts.Prefs == nil {
		return nil, false, nil
	}
	auth, ok := m.opts.Prefs.Credential()
	if !ok {
		return nil, false, nil
	}
	s, err := m.Get(auth.Token)
	if err != nil {
		return nil, false, err
	}
	return s, true, nil
}

func (m *Manager) list() []*Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out
}

// Len is the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// DrainAll drains every session queue and returns the number of actions
// that went through.
func (m *Manager) DrainAll(ctx context.Context) (int, error) {
	var (
		done int
		errs []error
	)
	for _, s := range m.list() {
		rep, err := s.Queue.Drain(ctx)
		done += len(rep.Succeeded)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Username, err))
		}
	}
	return done, errors.Join(errs...)
}

// Close unsubscribes every session and waits for background drains.
func (m *Manager) Close() {
	for _, s := range m.list() {
		m.forget(s.Owner)
	}
	if m.opts.Monitor != nil {
		m.opts.Monitor.Wait()
	}
	if m.opts.Cache != nil {
		m.opts.Cache.Wait()
	}
}
