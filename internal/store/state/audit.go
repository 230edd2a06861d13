package state

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrSnakeDoc/exposure/internal/domain"
	"github.com/MrSnakeDoc/exposure/internal/utils"
)

const (
	// DefaultAuditLimit is the number of entries returned when no limit is given.
	DefaultAuditLimit = 100
	// MaxAuditLimit caps a single audit read.
	MaxAuditLimit = 1000

	maxAuditLine = 1 << 20
)

// AuditLog is an append-only JSON lines file.
type AuditLog struct {
	path string
	now  func() time.Time

	mu sync.Mutex
}

// NewAuditLog opens (lazily) the audit file at path.
func NewAuditLog(path string, now func() time.Time) *AuditLog {
	if now == nil {
		now = time.Now
	}
	return &AuditLog{path: path, now: now}
}

// Path returns the location of the audit file.
func (a *AuditLog) Path() string {
	return a.path
}

// Append writes one entry as a single line and returns it.
func (a *AuditLog) Append(action, serviceID string, params map[string]any) (domain.AuditEntry, error) {
	entry := domain.AuditEntry{
		ID:        uuid.NewString(),
		Timestamp: a.now().UTC(),
		Action:    action,
		ServiceID: serviceID,
		Params:    params,
	}

	line, err := json.Marshal(entry)
	if err != nil {
		return entry, fmt.Errorf("failed to marshal audit entry: %w", err)
	}
	line = append(line, '\n')

	a.mu.Lock()
	defer a.mu.Unlock()

	f, err := os.OpenFile(a.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return entry, fmt.Errorf("failed to open audit log: %w", err)
	}
	if _, err := f.Write(line); err != nil {
		utils.Close(f)
		return entry, fmt.Errorf("failed to append audit entry: %w", err)
	}
	if err := f.Close(); err != nil {
		return entry, fmt.Errorf("failed to close audit log: %w", err)
	}
	return entry, nil
}

// Recent returns up to n entries, newest first. Lines that do not decode
// are skipped. A missing file yields an empty result.
func (a *AuditLog) Recent(n int) ([]domain.AuditEntry, error) {
	if n <= 0 {
		n = DefaultAuditLimit
	}
	if n > MaxAuditLimit {
		n = MaxAuditLimit
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	f, err := os.Open(a.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []domain.AuditEntry{}, nil
		}
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}
	defer utils.Close(f)

	// ring of the last n decodable entries
	ring := make([]domain.AuditEntry, 0, n)
	next := 0
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), maxAuditLine)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var entry domain.AuditEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			continue
		}
		if len(ring) < n {
			ring = append(ring, entry)
			continue
		}
		ring[next] = entry
		next = (next + 1) % n
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read audit log: %w", err)
	}

	entries := make([]domain.AuditEntry, 0, len(ring))
	for i := len(ring) - 1; i >= 0; i-- {
		entries = append(entries, ring[(next+i)%len(ring)])
	}
	return entries, nil
}
