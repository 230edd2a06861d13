package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/MrSnakeDoc/exposure/internal/domain"
	"github.com/MrSnakeDoc/exposure/internal/index"
	"github.com/MrSnakeDoc/exposure/internal/logger"
	"github.com/MrSnakeDoc/exposure/internal/utils"
)

const (
	StateFileName = "state.json"
	AuditFileName = "audit.json"

	// Reconcile triggers recorded on auto-expire audit entries.
	TriggerStartup  = "startup"
	TriggerInterval = "interval"
	TriggerRequest  = "request"
)

// ErrUnknownService is returned for ids that are not in the services file.
var ErrUnknownService = errors.New("service not found")

// Options configures a Store.
type Options struct {
	Dir                string             // data directory holding state.json
	Catalog            *index.MemoryIndex // configured services
	Audit              *AuditLog          // optional, defaults to <Dir>/audit.json
	DefaultAuthMode    domain.AuthMode
	DefaultExpiryHours float64
	Logger             logger.Logger
	Now                func() time.Time
}

// Store owns the exposure record of every configured service.
//
// All mutations run under one write lock and are persisted before the lock
// is released. The whole file is replaced on every write.
type Store struct {
	path         string
	catalog      *index.MemoryIndex
	audit        *AuditLog
	defaultMode  domain.AuthMode
	defaultHours float64
	logger       logger.Logger
	now          func() time.Time

	mu        sync.RWMutex
	exposures map[string]domain.Exposure
	dirty     bool // memory holds changes the last persist failed to write
}

// New builds a store. Call Load before serving.
func New(opts Options) *Store {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewNop()
	}
	if opts.DefaultAuthMode == "" {
		opts.DefaultAuthMode = domain.AuthModeGated
	}
	if opts.DefaultExpiryHours <= 0 {
		opts.DefaultExpiryHours = 1
	}
	if opts.Audit == nil {
		opts.Audit = NewAuditLog(filepath.Join(opts.Dir, AuditFileName), opts.Now)
	}
	return &Store{
		path:         filepath.Join(opts.Dir, StateFileName),
		catalog:      opts.Catalog,
		audit:        opts.Audit,
		defaultMode:  opts.DefaultAuthMode,
		defaultHours: opts.DefaultExpiryHours,
		logger:       opts.Logger,
		now:          opts.Now,
		exposures:    make(map[string]domain.Exposure),
	}
}

// Audit returns the audit log the store appends to.
func (s *Store) Audit() *AuditLog {
	return s.audit
}

// Path returns the location of the state file.
func (s *Store) Path() string {
	return s.path
}

// DefaultExpiryHours is the grant length used when a request gives none.
func (s *Store) DefaultExpiryHours() float64 {
	return s.defaultHours
}

// stateFile is the on-disk layout: {"exposures": {"<id>": {...}}}.
type stateFile struct {
	Exposures map[string]domain.Exposure `json:"exposures"`
}

// storedExposure decodes records leniently so one bad timestamp does not
// invalidate the whole file.
type storedExposure struct {
	Enabled   bool    `json:"enabled"`
	ExpiresAt *string `json:"expiresAt"`
	UpdatedAt string  `json:"updatedAt"`
	AuthMode  string  `json:"authMode"`
}

func (r storedExposure) toDomain(now time.Time) domain.Exposure {
	e := domain.Exposure{Enabled: r.Enabled}
	if ts, err := time.Parse(time.RFC3339Nano, r.UpdatedAt); err == nil {
		e.UpdatedAt = ts.UTC()
	} else {
		e.UpdatedAt = now.UTC()
	}
	if mode, err := domain.ParseAuthMode(r.AuthMode); err == nil {
		e.AuthMode = mode
	}
	if r.Enabled && r.ExpiresAt != nil && *r.ExpiresAt != "" {
		ts, err := time.Parse(time.RFC3339Nano, *r.ExpiresAt)
		if err != nil {
			// unreadable expiry counts as already expired
			ts = time.Unix(0, 0)
		}
		ts = ts.UTC()
		e.ExpiresAt = &ts
	}
	if !e.Enabled {
		e.ExpiresAt = nil
	}
	return e
}

// Load reads the state file and aligns it with the configured services.
//
// A missing or unreadable file is replaced by a fresh state. Exposures that
// expired while the process was down are disabled and audited with
// trigger=startup. The returned error only reports a failure to write the
// resulting state.
func (s *Store) Load() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}

	now := s.now()
	services := s.catalog.GetAllServices()

	stored, fresh := s.readFile(now)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.exposures = make(map[string]domain.Exposure, len(services))
	known := make(map[string]struct{}, len(services))
	changed := fresh
	for _, svc := range services {
		known[svc.ID] = struct{}{}
		exp, ok := stored[svc.ID]
		if !ok {
			exp = domain.Disabled(now, "")
			changed = true
		}
		s.exposures[svc.ID] = exp
	}
	for id := range stored {
		if _, ok := known[id]; !ok {
			s.logger.Info("pruning stale service entry", logger.String("service", id))
			changed = true
		}
	}

	active := 0
	var expired []string
	for _, svc := range services {
		exp := s.exposures[svc.ID]
		if !exp.Enabled {
			continue
		}
		if exp.Expired(now) {
			s.exposures[svc.ID] = domain.Disabled(now, s.authModeLocked(svc, exp))
			expired = append(expired, svc.ID)
			continue
		}
		active++
	}
	if len(expired) > 0 {
		changed = true
	}

	if changed {
		if err := s.persistLocked(); err != nil {
			return err
		}
	}
	for _, id := range expired {
		s.appendAudit(domain.ActionAutoExpire, id, map[string]any{"trigger": TriggerStartup})
	}

	s.logger.Info("state recovered",
		logger.Int("services", len(services)),
		logger.Int("active", active),
		logger.Int("expired", len(expired)),
		logger.Bool("fresh", fresh))
	return nil
}

// readFile returns the stored records, or fresh=true when the file is
// missing or cannot be decoded.
func (s *Store) readFile(now time.Time) (map[string]domain.Exposure, bool) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.logger.Info("no prior state file, starting fresh", logger.String("path", s.path))
		} else {
			s.logger.Error("failed to read state file, rebuilding", logger.String("path", s.path), logger.Error(err))
		}
		return map[string]domain.Exposure{}, true
	}

	var raw struct {
		Exposures map[string]storedExposure `json:"exposures"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		s.logger.Error("failed to decode state file, rebuilding", logger.String("path", s.path), logger.Error(err))
		return map[string]domain.Exposure{}, true
	}

	out := make(map[string]domain.Exposure, len(raw.Exposures))
	for id, rec := range raw.Exposures {
		out[id] = rec.toDomain(now)
	}
	return out, false
}

// Get returns the stored exposure of id.
func (s *Store) Get(id string) (domain.Exposure, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	exp, ok := s.exposures[id]
	return exp, ok
}

// SetEnabled grants a public exposure of id for the clamped number of hours.
// An empty mode selects the service default. The change is on disk when
// SetEnabled returns without error; on a write failure memory is rolled back.
func (s *Store) SetEnabled(id string, hours float64, mode domain.AuthMode) (domain.Exposure, error) {
	svc, ok := s.catalog.GetService(id)
	if !ok {
		return domain.Exposure{}, ErrUnknownService
	}
	if mode == "" {
		mode = svc.DefaultAuthMode(s.defaultMode)
	}
	hours = domain.ClampHours(hours, s.defaultHours)

	now := s.now().UTC()
	expiresAt := now.Add(domain.HoursToDuration(hours))
	next := domain.Exposure{
		Enabled:   true,
		ExpiresAt: &expiresAt,
		UpdatedAt: now,
		AuthMode:  mode,
	}

	s.mu.Lock()
	prev, had := s.exposures[id]
	s.exposures[id] = next
	if err := s.persistLocked(); err != nil {
		if had {
			s.exposures[id] = prev
		} else {
			delete(s.exposures, id)
		}
		s.mu.Unlock()
		return domain.Exposure{}, err
	}
	s.mu.Unlock()

	s.appendAudit(domain.ActionEnable, id, map[string]any{"hours": hours, "authMode": string(mode)})
	return next, nil
}

// SetDisabled revokes the exposure of id. When the stored record is already
// disabled nothing is written and changed is false.
func (s *Store) SetDisabled(id string) (exp domain.Exposure, changed bool, err error) {
	svc, ok := s.catalog.GetService(id)
	if !ok {
		return domain.Exposure{}, false, ErrUnknownService
	}

	s.mu.Lock()
	prev := s.exposures[id]
	if !prev.Enabled {
		s.mu.Unlock()
		return prev, false, nil
	}

	next := domain.Disabled(s.now(), s.authModeLocked(svc, prev))
	s.exposures[id] = next
	if err := s.persistLocked(); err != nil {
		s.exposures[id] = prev
		s.mu.Unlock()
		return domain.Exposure{}, false, err
	}
	s.mu.Unlock()

	s.appendAudit(domain.ActionDisable, id, nil)
	return next, true, nil
}

// DisableAll disables every service in one write and reports how many
// exposures were enabled before the call.
func (s *Store) DisableAll() (int, error) {
	services := s.catalog.GetAllServices()
	now := s.now()

	s.mu.Lock()
	prev := make(map[string]domain.Exposure, len(s.exposures))
	disabled := 0
	for _, svc := range services {
		exp := s.exposures[svc.ID]
		prev[svc.ID] = exp
		if exp.Enabled {
			disabled++
		}
		s.exposures[svc.ID] = domain.Disabled(now, s.authModeLocked(svc, exp))
	}
	if err := s.persistLocked(); err != nil {
		for id, exp := range prev {
			s.exposures[id] = exp
		}
		s.mu.Unlock()
		return 0, err
	}
	s.mu.Unlock()

	s.appendAudit(domain.ActionEmergencyDisableAll, "", map[string]any{"disabled": disabled})
	return disabled, nil
}

// ReconcileExpired disables every exposure whose expiry has passed, writes
// the state once and audits each service. It returns the expired ids.
//
// When nothing expired and no earlier write is pending only a read lock is taken.
func (s *Store) ReconcileExpired(trigger string) ([]string, error) {
	now := s.now()

	s.mu.RLock()
	pending := s.dirty
	if !pending {
		for _, exp := range s.exposures {
			if exp.Expired(now) {
				pending = true
				break
			}
		}
	}
	s.mu.RUnlock()
	if !pending {
		return nil, nil
	}

	s.mu.Lock()
	var expired []string
	for _, svc := range s.catalog.GetAllServices() {
		exp, ok := s.exposures[svc.ID]
		if !ok || !exp.Expired(now) {
			continue
		}
		s.exposures[svc.ID] = domain.Disabled(now, s.authModeLocked(svc, exp))
		expired = append(expired, svc.ID)
	}
	var err error
	if len(expired) > 0 || s.dirty {
		// memory keeps the disabled records on failure; dirty makes the next sweep retry the write
		err = s.persistLocked()
	}
	s.mu.Unlock()

	for _, id := range expired {
		s.appendAudit(domain.ActionAutoExpire, id, map[string]any{"trigger": trigger})
	}
	return expired, err
}

// Persist writes the current state to disk.
func (s *Store) Persist() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persistLocked()
}

func (s *Store) persistLocked() error {
	data, err := json.MarshalIndent(stateFile{Exposures: s.exposures}, "", "  ")
	if err != nil {
		s.dirty = true
		return fmt.Errorf("failed to marshal state: %w", err)
	}
	if err := utils.WriteFileAtomic(s.path, data, 0o600); err != nil {
		s.dirty = true
		return fmt.Errorf("failed to persist state: %w", err)
	}
	s.dirty = false
	return nil
}

// authModeLocked is the effective auth mode: the stored one, else the service default.
func (s *Store) authModeLocked(svc domain.Service, exp domain.Exposure) domain.AuthMode {
	if exp.AuthMode != "" {
		return exp.AuthMode
	}
	return svc.DefaultAuthMode(s.defaultMode)
}

func (s *Store) appendAudit(action, serviceID string, params map[string]any) {
	if _, err := s.audit.Append(action, serviceID, params); err != nil {
		s.logger.Error("failed to append audit entry",
			logger.String("action", action),
			logger.String("service", serviceID),
			logger.Error(err))
	}
}

// ActiveCount returns the number of effectively enabled exposures.
func (s *Store) ActiveCount() int {
	now := s.now()

	s.mu.RLock()
	defer s.mu.RUnlock()

	active := 0
	for _, exp := range s.exposures {
		if exp.EffectiveEnabled(now) {
			active++
		}
	}
	return active
}

// Access reports whether id is reachable right now and the auth mode it is
// shared with. ok is false for unknown services.
func (s *Store) Access(id string) (enabled bool, mode domain.AuthMode, ok bool) {
	svc, known := s.catalog.GetService(id)
	if !known {
		return false, "", false
	}
	now := s.now()

	s.mu.RLock()
	defer s.mu.RUnlock()
	exp := s.exposures[svc.ID]
	return exp.EffectiveEnabled(now), s.authModeLocked(svc, exp), true
}

// Views projects every configured service with its exposure, in file order.
func (s *Store) Views() []domain.ServiceView {
	services := s.catalog.GetAllServices()
	now := s.now()

	s.mu.RLock()
	defer s.mu.RUnlock()

	views := make([]domain.ServiceView, 0, len(services))
	for _, svc := range services {
		views = append(views, s.viewLocked(svc, now))
	}
	return views
}

// View projects one service.
func (s *Store) View(id string) (domain.ServiceView, bool) {
	svc, ok := s.catalog.GetService(id)
	if !ok {
		return domain.ServiceView{}, false
	}
	now := s.now()

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.viewLocked(svc, now), true
}

func (s *Store) viewLocked(svc domain.Service, now time.Time) domain.ServiceView {
	hosts := s.catalog.Hosts()
	exp, ok := s.exposures[svc.ID]

	view := domain.ServiceView{
		ID:                 svc.ID,
		Name:               svc.Name,
		Description:        svc.Description,
		Target:             svc.Target,
		PublicHost:         hosts.PublicHost(svc.ID),
		PublicURL:          hosts.PublicURL(svc.ID),
		Enabled:            exp.EffectiveEnabled(now),
		DesiredEnabled:     exp.Enabled,
		DefaultExpiryHours: s.defaultHours,
		DefaultAuthMode:    svc.DefaultAuthMode(s.defaultMode),
		AuthMode:           s.authModeLocked(svc, exp),
	}
	if ok {
		if exp.ExpiresAt != nil {
			ts := *exp.ExpiresAt
			view.ExpiresAt = &ts
		}
		updated := exp.UpdatedAt
		view.UpdatedAt = &updated
	}
	return view
}
