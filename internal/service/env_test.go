package service

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/bigkaa/goartstore/access-engine/internal/domain/classification"
	"github.com/bigkaa/goartstore/access-engine/internal/domain/model"
	"github.com/bigkaa/goartstore/access-engine/internal/events"
	"github.com/bigkaa/goartstore/access-engine/internal/keystore"
	"github.com/bigkaa/goartstore/access-engine/internal/replay"
	"github.com/bigkaa/goartstore/access-engine/internal/repository"
	"github.com/bigkaa/goartstore/access-engine/internal/seal"
	"github.com/bigkaa/goartstore/access-engine/internal/storage/blobstore"
	"github.com/bigkaa/goartstore/access-engine/internal/storage/journal"
	"github.com/bigkaa/goartstore/access-engine/internal/storage/memory"
)

// testLogger — логгер для тестов (вывод только ошибок).
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// mockOracle — мок оракула отзыва.
type mockOracle struct {
	isRevokedFn func(ctx context.Context, holder, issuer string) (bool, error)
}

func (m *mockOracle) IsRevoked(ctx context.Context, holder, issuer string) (bool, error) {
	if m.isRevokedFn != nil {
		return m.isRevokedFn(ctx, holder, issuer)
	}
	return false, nil
}

// mockEmitter — мок отправителя событий, запоминает события.
type mockEmitter struct {
	mu     sync.Mutex
	events []events.GrantLogged
}

func (m *mockEmitter) Emit(e events.GrantLogged) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return true
}

func (m *mockEmitter) emitted() []events.GrantLogged {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]events.GrantLogged(nil), m.events...)
}

// faultyStore — хранилище с внедряемыми сбоями журнала доступа.
type faultyStore struct {
	repository.Store
	appendFn func(ctx context.Context, g *model.AccessGrant) error
}

func (f *faultyStore) AccessLog() repository.AccessLogRepository {
	return &faultyAccessLog{AccessLogRepository: f.Store.AccessLog(), appendFn: f.appendFn}
}

type faultyAccessLog struct {
	repository.AccessLogRepository
	appendFn func(ctx context.Context, g *model.AccessGrant) error
}

func (l *faultyAccessLog) Append(ctx context.Context, g *model.AccessGrant) error {
	if l.appendFn != nil {
		if err := l.appendFn(ctx, g); err != nil {
			return err
		}
	}
	return l.AccessLogRepository.Append(ctx, g)
}

// testEnv — собранный движок на in-memory хранилище.
type testEnv struct {
	store    *memory.Store
	keys     *keystore.KeyStore
	blobs    *blobstore.FileStore
	journal  *journal.Journal
	oracle   *mockOracle
	emitter  *mockEmitter
	registry *RegistryService
	access   *AccessService

	mu  sync.Mutex
	now time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	master, err := seal.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	store := memory.New()
	keys, err := keystore.New(store, master, 16, time.Minute, testLogger())
	if err != nil {
		t.Fatalf("keystore.New: %v", err)
	}
	blobs, err := blobstore.New(t.TempDir())
	if err != nil {
		t.Fatalf("blobstore.New: %v", err)
	}
	j, err := journal.New(t.TempDir(), testLogger())
	if err != nil {
		t.Fatalf("journal.New: %v", err)
	}

	env := &testEnv{
		store:   store,
		keys:    keys,
		blobs:   blobs,
		journal: j,
		oracle:  &mockOracle{},
		emitter: &mockEmitter{},
		now:     time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}

	cryptoPool := NewWorkerPool("crypto", 4)
	env.registry = NewRegistryService(store, keys, blobs, cryptoPool, testLogger())
	env.registry.now = env.clock
	env.access = env.newAccessService(store)
	return env
}

// newAccessService собирает AccessService поверх указанного хранилища.
func (e *testEnv) newAccessService(store repository.Store) *AccessService {
	s := NewAccessService(AccessDeps{
		Store:      store,
		Keys:       e.keys,
		Blobs:      e.blobs,
		Revocation: e.oracle,
		Replay:     replay.NewMemoryGuard(1024, 10*time.Minute),
		Journal:    e.journal,
		Events:     e.emitter,
		CryptoPool: NewWorkerPool("crypto", 4),
		OraclePool: NewWorkerPool("oracle", 8),
		Freshness:  5 * time.Minute,
	}, testLogger())
	s.now = e.clock
	return s
}

func (e *testEnv) clock() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.now
}

func (e *testEnv) advance(d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.now = e.now.Add(d)
}

// createDocument создаёт документ от имени автора с максимальным допуском.
func (e *testEnv) createDocument(t *testing.T, level classification.Level, issuers []string, content string) string {
	t.Helper()
	author := Actor{Identity: "author", Issuer: "IssuerA", Clearance: classification.TopSecret}
	id, err := e.registry.Create(context.Background(), author, CreateDocumentInput{
		ClassificationLevel: level,
		ReleasableToIssuers: issuers,
		Plaintext:           []byte(content),
		Title:               "Документ " + level.String(),
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return id
}

// grants возвращает все записи журнала доступа документа.
func (e *testEnv) grants(t *testing.T, docID string) []*model.AccessGrant {
	t.Helper()
	rows, err := e.store.AccessLog().ListByDocument(context.Background(), docID, 1000, 0)
	if err != nil {
		t.Fatalf("ListByDocument: %v", err)
	}
	return rows
}

// testRequestor — субъект с зарегистрированным ключом подписи.
type testRequestor struct {
	actor    Actor
	signPriv *[64]byte
}

func (e *testEnv) newRequestor(t *testing.T, identity, issuer string, clearance classification.Level) *testRequestor {
	t.Helper()
	pub, priv, err := seal.GenerateSigningKeyPair()
	if err != nil {
		t.Fatalf("GenerateSigningKeyPair: %v", err)
	}
	actor := Actor{Identity: identity, Issuer: issuer, Clearance: clearance}
	if err := e.access.RegisterSigningKey(context.Background(), actor, pub[:]); err != nil {
		t.Fatalf("RegisterSigningKey: %v", err)
	}
	return &testRequestor{actor: actor, signPriv: priv}
}

// request строит подписанный запрос со свежим эфемерным ключом.
// Возвращает запрос и эфемерный приватный ключ для открытия копии.
func (r *testRequestor) request(t *testing.T, docID string, ts time.Time, nonce string) (AccessRequest, *[seal.PublicKeySize]byte) {
	t.Helper()
	ephPub, ephPriv, err := seal.GenerateEphemeralKeyPair()
	if err != nil {
		t.Fatalf("GenerateEphemeralKeyPair: %v", err)
	}
	msg := seal.CanonicalAccessRequest(docID, ephPub[:], ts, nonce)
	return AccessRequest{
		DocumentID:         docID,
		Requestor:          r.actor,
		EphemeralPublicKey: ephPub[:],
		Signature:          seal.SignAccessRequest(r.signPriv, msg),
		Timestamp:          ts,
		Nonce:              nonce,
	}, ephPriv
}
