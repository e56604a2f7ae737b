package ledger

import (
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/cashflow-tracker/backend/internal/database"
	"github.com/cashflow-tracker/backend/internal/sheet"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type sequenceIDProvider struct {
	mu   sync.Mutex
	next int
}

func (p *sequenceIDProvider) NewID() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.next++
	return fmt.Sprintf("id-%04d", p.next), nil
}

type steppingClock struct {
	mu      sync.Mutex
	current time.Time
}

func newSteppingClock() *steppingClock {
	return &steppingClock{current: time.Date(2026, time.March, 14, 18, 0, 0, 0, time.UTC)}
}

func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	value := c.current
	c.current = c.current.Add(time.Second)
	return value
}

type recordingObserver struct {
	mu       sync.Mutex
	outcomes map[string][]string
}

func (o *recordingObserver) ObserveOperation(operation, outcome string, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.outcomes == nil {
		o.outcomes = make(map[string][]string)
	}
	o.outcomes[operation] = append(o.outcomes[operation], outcome)
}

func openTestDatabase(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "ledger.db"), zap.NewNop())
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func newTestService(t *testing.T, db *gorm.DB, observer Observer) *Service {
	t.Helper()
	service, err := NewService(ServiceConfig{
		Database:   db,
		Clock:      newSteppingClock().Now,
		IDProvider: &sequenceIDProvider{},
		Logger:     zap.NewNop(),
		Observer:   observer,
	})
	if err != nil {
		t.Fatalf("failed to build service: %v", err)
	}
	return service
}

func mustSheet(t *testing.T, raw string) sheet.Sheet {
	t.Helper()
	document, err := sheet.ParseSheet([]byte(raw))
	if err != nil {
		t.Fatalf("unexpected sheet error: %v", err)
	}
	return document
}

func mustNode(t *testing.T, raw string) sheet.Node {
	t.Helper()
	node, err := sheet.ParseNode([]byte(raw))
	if err != nil {
		t.Fatalf("unexpected node error: %v", err)
	}
	return node
}

const startingSheet = `{"income":{"salary":{"value":0}},"expenses":{"taxes":{"value":0}},"assets":{"savings":0}}`

func createAliceAndBob(t *testing.T, service *Service) GameWithPlayers {
	t.Helper()
	created, err := service.CreateGame(t.Context(), CreateGameRequest{
		Title: "Friday night",
		Players: []PlayerSeed{
			{Name: "Alice", Color: ColorBlue, Sheet: mustSheet(t, startingSheet)},
			{Name: "Bob", Color: ColorRed, Sheet: mustSheet(t, startingSheet)},
		},
	})
	if err != nil {
		t.Fatalf("failed to create game: %v", err)
	}
	return created
}

func requireKind(t *testing.T, err error, kind ErrorKind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", kind)
	}
	if got := KindOf(err); got != kind {
		t.Fatalf("expected %s error, got %s (%v)", kind, got, err)
	}
}

func countRows(t *testing.T, db *gorm.DB, table string) int64 {
	t.Helper()
	var count int64
	if err := db.Table(table).Count(&count).Error; err != nil {
		t.Fatalf("failed to count %s: %v", table, err)
	}
	return count
}
