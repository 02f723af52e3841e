// Пакет memory — in-memory реализация repository.Store.
//
// Используется в тестах и при AE_STORE_BACKEND=memory. Соблюдает тот же
// контракт, что и PostgreSQL: уникальность активного ключа, append-only
// журнал доступа, откат транзакции при ошибке. Чтения вне транзакции ждут
// завершения открытой транзакции и не видят её незафиксированных изменений.
package memory

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/bigkaa/goartstore/access-engine/internal/domain/classification"
	"github.com/bigkaa/goartstore/access-engine/internal/domain/model"
	"github.com/bigkaa/goartstore/access-engine/internal/repository"
)

// state — данные хранилища.
type state struct {
	mu sync.RWMutex

	documents   map[string]model.Document
	keys        map[string]model.EncryptionKey
	accessLog   []model.AccessGrant
	grantIDs    map[string]struct{}
	history     []model.HistoryEvent
	signingKeys map[string][]byte

	accessSeq  int64
	historySeq int64
	closed     bool
}

// snapshot возвращает копию данных для отката транзакции.
// Значения структур не изменяются на месте, поэтому достаточно копии контейнеров.
func (s *state) snapshot() *state {
	return &state{
		documents:   maps.Clone(s.documents),
		keys:        maps.Clone(s.keys),
		accessLog:   slices.Clone(s.accessLog),
		grantIDs:    maps.Clone(s.grantIDs),
		history:     slices.Clone(s.history),
		signingKeys: maps.Clone(s.signingKeys),
		accessSeq:   s.accessSeq,
		historySeq:  s.historySeq,
	}
}

// restore возвращает данные из снимка.
func (s *state) restore(snap *state) {
	s.documents = snap.documents
	s.keys = snap.keys
	s.accessLog = snap.accessLog
	s.grantIDs = snap.grantIDs
	s.history = snap.history
	s.signingKeys = snap.signingKeys
	s.accessSeq = snap.accessSeq
	s.historySeq = snap.historySeq
}

// Store — in-memory хранилище.
type Store struct {
	st *state
	// txMu: транзакции и записи вне транзакций берут Lock, чтения вне транзакций RLock
	txMu *sync.RWMutex
	inTx bool
	now  func() time.Time
}

// New создаёт пустое хранилище.
func New() *Store {
	return &Store{
		st: &state{
			documents:   make(map[string]model.Document),
			keys:        make(map[string]model.EncryptionKey),
			grantIDs:    make(map[string]struct{}),
			signingKeys: make(map[string][]byte),
		},
		txMu: &sync.RWMutex{},
		now:  func() time.Time { return time.Now().UTC() },
	}
}

var _ repository.Store = (*Store)(nil)

func (s *Store) Documents() repository.DocumentRepository     { return documentRepo{s} }
func (s *Store) Keys() repository.KeyRepository               { return keyRepo{s} }
func (s *Store) AccessLog() repository.AccessLogRepository    { return accessLogRepo{s} }
func (s *Store) History() repository.HistoryRepository        { return historyRepo{s} }
func (s *Store) SigningKeys() repository.SigningKeyRepository { return signingKeyRepo{s} }

// RunInTx выполняет fn под эксклюзивной блокировкой. При ошибке fn
// все изменения, сделанные внутри, откатываются.
func (s *Store) RunInTx(ctx context.Context, fn func(tx repository.Store) error) error {
	if s.inTx {
		return fn(s)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("ошибка начала транзакции: %w", err)
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.st.mu.RLock()
	snap := s.st.snapshot()
	s.st.mu.RUnlock()

	tx := &Store{st: s.st, txMu: s.txMu, inTx: true, now: s.now}
	if err := fn(tx); err != nil {
		s.st.mu.Lock()
		s.st.restore(snap)
		s.st.mu.Unlock()
		return err
	}
	return nil
}

// Ping возвращает ErrClosed после Close.
func (s *Store) Ping(_ context.Context) error {
	s.st.mu.RLock()
	defer s.st.mu.RUnlock()
	if s.st.closed {
		return repository.ErrClosed
	}
	return nil
}

// Close закрывает хранилище. Последующие операции возвращают ErrClosed.
func (s *Store) Close() {
	s.st.mu.Lock()
	s.st.closed = true
	s.st.mu.Unlock()
}

// write выполняет изменение данных. Вне транзакции запись ждёт
// завершения текущей транзакции.
func (s *Store) write(fn func(st *state) error) error {
	if !s.inTx {
		s.txMu.Lock()
		defer s.txMu.Unlock()
	}
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	if s.st.closed {
		return repository.ErrClosed
	}
	return fn(s.st)
}

// read выполняет чтение данных. Вне транзакции чтение ждёт
// завершения текущей транзакции.
func (s *Store) read(fn func(st *state) error) error {
	if !s.inTx {
		s.txMu.RLock()
		defer s.txMu.RUnlock()
	}
	s.st.mu.RLock()
	defer s.st.mu.RUnlock()
	if s.st.closed {
		return repository.ErrClosed
	}
	return fn(s.st)
}

// --- Документы ---

type documentRepo struct{ s *Store }

func cloneDocument(d model.Document) *model.Document {
	d.ReleasableToIssuers = slices.Clone(d.ReleasableToIssuers)
	d.ReleasabilityBloom = slices.Clone(d.ReleasabilityBloom)
	d.MetadataEnvelope = slices.Clone(d.MetadataEnvelope)
	return &d
}

func (r documentRepo) Create(_ context.Context, d *model.Document) error {
	return r.s.write(func(st *state) error {
		if _, ok := st.documents[d.ID]; ok {
			return fmt.Errorf("%w: документ %s уже существует", repository.ErrConflict, d.ID)
		}
		st.documents[d.ID] = *cloneDocument(*d)
		return nil
	})
}

func (r documentRepo) GetByID(_ context.Context, id string) (*model.Document, error) {
	var out *model.Document
	err := r.s.read(func(st *state) error {
		d, ok := st.documents[id]
		if !ok {
			return repository.ErrNotFound
		}
		out = cloneDocument(d)
		return nil
	})
	return out, err
}

func (r documentRepo) ListActive(_ context.Context, afterID string, limit int) ([]*model.Document, error) {
	var out []*model.Document
	err := r.s.read(func(st *state) error {
		ids := slices.Sorted(maps.Keys(st.documents))
		for _, id := range ids {
			if id <= afterID {
				continue
			}
			d := st.documents[id]
			if d.DeletedAt != nil {
				continue
			}
			out = append(out, cloneDocument(d))
			if len(out) == limit {
				break
			}
		}
		return nil
	})
	return out, err
}

func (r documentRepo) MarkDeleted(_ context.Context, id string, at time.Time) error {
	return r.s.write(func(st *state) error {
		d, ok := st.documents[id]
		if !ok || d.DeletedAt != nil {
			return repository.ErrNotFound
		}
		d.DeletedAt = &at
		st.documents[id] = d
		return nil
	})
}

func (r documentRepo) UpdateReleasability(_ context.Context, id string, issuers []string, bloom []byte) error {
	return r.s.write(func(st *state) error {
		d, ok := st.documents[id]
		if !ok || d.DeletedAt != nil {
			return repository.ErrNotFound
		}
		d.ReleasableToIssuers = slices.Clone(issuers)
		d.ReleasabilityBloom = slices.Clone(bloom)
		st.documents[id] = d
		return nil
	})
}

// --- Ключи ---

type keyRepo struct{ s *Store }

func (r keyRepo) GetActive(_ context.Context, scope string, level classification.Level) (*model.EncryptionKey, error) {
	var out *model.EncryptionKey
	err := r.s.read(func(st *state) error {
		for _, k := range st.keys {
			if k.Active && k.Scope == scope && k.Level == level {
				k.WrappedKey = slices.Clone(k.WrappedKey)
				out = &k
				return nil
			}
		}
		return repository.ErrNotFound
	})
	return out, err
}

func (r keyRepo) GetByID(_ context.Context, id string) (*model.EncryptionKey, error) {
	var out *model.EncryptionKey
	err := r.s.read(func(st *state) error {
		k, ok := st.keys[id]
		if !ok {
			return repository.ErrNotFound
		}
		k.WrappedKey = slices.Clone(k.WrappedKey)
		out = &k
		return nil
	})
	return out, err
}

func (r keyRepo) Create(_ context.Context, k *model.EncryptionKey) error {
	return r.s.write(func(st *state) error {
		if _, ok := st.keys[k.ID]; ok {
			return fmt.Errorf("%w: ключ %s уже существует", repository.ErrConflict, k.ID)
		}
		if k.Active {
			for _, existing := range st.keys {
				if existing.Active && existing.Scope == k.Scope && existing.Level == k.Level {
					return fmt.Errorf("%w: активный ключ %s/%s уже существует", repository.ErrConflict, k.Scope, k.Level)
				}
			}
		}
		stored := *k
		stored.WrappedKey = slices.Clone(k.WrappedKey)
		st.keys[k.ID] = stored
		return nil
	})
}

func (r keyRepo) Deactivate(_ context.Context, id string, at time.Time) error {
	return r.s.write(func(st *state) error {
		k, ok := st.keys[id]
		if !ok || !k.Active {
			return repository.ErrNotFound
		}
		k.Active = false
		k.RotatedAt = &at
		st.keys[id] = k
		return nil
	})
}

// --- Журнал доступа ---

type accessLogRepo struct{ s *Store }

func (r accessLogRepo) Append(_ context.Context, g *model.AccessGrant) error {
	return r.s.write(func(st *state) error {
		if _, ok := st.grantIDs[g.GrantID]; ok {
			return fmt.Errorf("%w: запись выдачи %s уже существует", repository.ErrConflict, g.GrantID)
		}
		st.accessSeq++
		g.Seq = st.accessSeq
		g.CreatedAt = r.s.now()
		st.accessLog = append(st.accessLog, *g)
		st.grantIDs[g.GrantID] = struct{}{}
		return nil
	})
}

func (r accessLogRepo) ListByDocument(_ context.Context, documentID string, limit, offset int) ([]*model.AccessGrant, error) {
	var out []*model.AccessGrant
	err := r.s.read(func(st *state) error {
		skipped := 0
		for _, g := range st.accessLog {
			if g.DocumentID != documentID {
				continue
			}
			if skipped < offset {
				skipped++
				continue
			}
			out = append(out, &g)
			if len(out) == limit {
				break
			}
		}
		return nil
	})
	return out, err
}

// --- История ---

type historyRepo struct{ s *Store }

func (r historyRepo) Append(_ context.Context, e *model.HistoryEvent) error {
	return r.s.write(func(st *state) error {
		st.historySeq++
		e.Seq = st.historySeq
		e.CreatedAt = r.s.now()
		st.history = append(st.history, *e)
		return nil
	})
}

func (r historyRepo) ListByDocument(_ context.Context, documentID string) ([]*model.HistoryEvent, error) {
	var out []*model.HistoryEvent
	err := r.s.read(func(st *state) error {
		for _, e := range st.history {
			if e.DocumentID == documentID {
				out = append(out, &e)
			}
		}
		return nil
	})
	return out, err
}

// --- Ключи подписи ---

type signingKeyRepo struct{ s *Store }

func (r signingKeyRepo) Upsert(_ context.Context, identity string, publicKey []byte) error {
	return r.s.write(func(st *state) error {
		st.signingKeys[identity] = slices.Clone(publicKey)
		return nil
	})
}

func (r signingKeyRepo) Get(_ context.Context, identity string) ([]byte, error) {
	var out []byte
	err := r.s.read(func(st *state) error {
		k, ok := st.signingKeys[identity]
		if !ok {
			return repository.ErrNotFound
		}
		out = slices.Clone(k)
		return nil
	})
	return out, err
}
