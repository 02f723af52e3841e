package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/bigkaa/goartstore/access-engine/internal/domain/classification"
	"github.com/bigkaa/goartstore/access-engine/internal/domain/model"
	"github.com/bigkaa/goartstore/access-engine/internal/repository"
)

func newKey(scope string, level classification.Level) *model.EncryptionKey {
	return &model.EncryptionKey{
		ID: uuid.NewString(), Scope: scope, Level: level,
		WrappedKey: []byte("wrapped"), Active: true, CreatedAt: time.Now().UTC(),
	}
}

func newDocument(id string) *model.Document {
	return &model.Document{
		ID:                  id,
		ClassificationLevel: classification.Confidential,
		ReleasableToIssuers: []string{"IssuerA"},
		ReleasabilityBloom:  make([]byte, 128),
		CreatedAt:           time.Now().UTC(),
	}
}

func TestKeys_ActiveUniqueness(t *testing.T) {
	s := New()
	ctx := context.Background()

	first := newKey("IssuerA", classification.TopSecret)
	if err := s.Keys().Create(ctx, first); err != nil {
		t.Fatalf("Create() ошибка: %v", err)
	}
	if err := s.Keys().Create(ctx, newKey("IssuerA", first.Level)); !errors.Is(err, repository.ErrConflict) {
		t.Fatalf("ожидали ErrConflict, получили %v", err)
	}

	if err := s.Keys().Deactivate(ctx, first.ID, time.Now()); err != nil {
		t.Fatalf("Deactivate() ошибка: %v", err)
	}
	second := newKey("IssuerA", first.Level)
	if err := s.Keys().Create(ctx, second); err != nil {
		t.Fatalf("Create() после ротации: %v", err)
	}

	active, err := s.Keys().GetActive(ctx, "IssuerA", first.Level)
	if err != nil || active.ID != second.ID {
		t.Fatalf("GetActive() = %v, %v", active, err)
	}
	old, err := s.Keys().GetByID(ctx, first.ID)
	if err != nil || old.Active {
		t.Errorf("старый ключ должен остаться доступным и неактивным: %+v, %v", old, err)
	}
}

func TestDocuments_ListActiveKeyset(t *testing.T) {
	s := New()
	ctx := context.Background()

	var ids []string
	for i := 0; i < 5; i++ {
		id := uuid.Must(uuid.NewV7()).String()
		ids = append(ids, id)
		if err := s.Documents().Create(ctx, newDocument(id)); err != nil {
			t.Fatalf("Create() ошибка: %v", err)
		}
	}
	if err := s.Documents().MarkDeleted(ctx, ids[2], time.Now()); err != nil {
		t.Fatalf("MarkDeleted() ошибка: %v", err)
	}

	page1, _ := s.Documents().ListActive(ctx, "", 2)
	if len(page1) != 2 || page1[0].ID != ids[0] || page1[1].ID != ids[1] {
		t.Fatalf("первая страница некорректна: %d", len(page1))
	}
	page2, _ := s.Documents().ListActive(ctx, page1[1].ID, 2)
	if len(page2) != 2 || page2[0].ID != ids[3] {
		t.Fatalf("вторая страница должна пропустить удалённый документ")
	}

	// Удалённый документ читается по ID
	d, err := s.Documents().GetByID(ctx, ids[2])
	if err != nil || !d.IsDeleted() {
		t.Errorf("GetByID удалённого: %+v, %v", d, err)
	}
	if err := s.Documents().UpdateReleasability(ctx, ids[2], []string{"IssuerB"}, nil); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("UpdateReleasability удалённого: ожидали ErrNotFound, получили %v", err)
	}
}

func TestDocuments_ReturnsCopies(t *testing.T) {
	s := New()
	ctx := context.Background()
	d := newDocument(uuid.NewString())
	_ = s.Documents().Create(ctx, d)

	got, _ := s.Documents().GetByID(ctx, d.ID)
	got.ReleasableToIssuers[0] = "Mallory"

	again, _ := s.Documents().GetByID(ctx, d.ID)
	if again.ReleasableToIssuers[0] != "IssuerA" {
		t.Error("изменение возвращённого документа не должно влиять на хранилище")
	}
}

func TestRunInTx_Rollback(t *testing.T) {
	s := New()
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.RunInTx(ctx, func(tx repository.Store) error {
		if err := tx.Documents().Create(ctx, newDocument("doc-1")); err != nil {
			return err
		}
		if err := tx.AccessLog().Append(ctx, &model.AccessGrant{GrantID: "g-1", DocumentID: "doc-1"}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("ожидали boom, получили %v", err)
	}

	if _, err := s.Documents().GetByID(ctx, "doc-1"); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("документ должен быть откачен: %v", err)
	}
	rows, _ := s.AccessLog().ListByDocument(ctx, "doc-1", 10, 0)
	if len(rows) != 0 {
		t.Errorf("запись журнала должна быть откачена")
	}

	// После отката последовательность продолжается с прежнего значения
	g := &model.AccessGrant{GrantID: "g-2", DocumentID: "doc-1"}
	if err := s.AccessLog().Append(ctx, g); err != nil || g.Seq != 1 {
		t.Errorf("Append() после отката: seq=%d, err=%v", g.Seq, err)
	}
}

// TestRunInTx_NoDirtyReads — чтение вне транзакции не видит
// незафиксированный документ, который затем откатывается.
func TestRunInTx_NoDirtyReads(t *testing.T) {
	s := New()
	ctx := context.Background()
	boom := errors.New("boom")

	created := make(chan struct{})
	readErr := make(chan error, 1)
	go func() {
		<-created
		_, err := s.Documents().GetByID(ctx, "doc-1")
		readErr <- err
	}()

	err := s.RunInTx(ctx, func(tx repository.Store) error {
		if err := tx.Documents().Create(ctx, newDocument("doc-1")); err != nil {
			return err
		}
		close(created)
		// Даём читателю время попытаться прочитать незафиксированные данные
		time.Sleep(50 * time.Millisecond)
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("ожидали boom, получили %v", err)
	}

	if err := <-readErr; !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("чтение во время транзакции: ожидали ErrNotFound, получили %v", err)
	}
}

func TestAccessLog_AppendOnly(t *testing.T) {
	s := New()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		g := &model.AccessGrant{GrantID: uuid.NewString(), DocumentID: "doc-1"}
		if err := s.AccessLog().Append(ctx, g); err != nil {
			t.Fatalf("Append() ошибка: %v", err)
		}
		if g.Seq != int64(i+1) || g.CreatedAt.IsZero() {
			t.Errorf("Seq=%d CreatedAt=%v", g.Seq, g.CreatedAt)
		}
	}

	page, _ := s.AccessLog().ListByDocument(ctx, "doc-1", 2, 3)
	if len(page) != 2 || page[0].Seq != 4 {
		t.Errorf("постраничный вывод некорректен: %d", len(page))
	}

	dup := &model.AccessGrant{GrantID: page[0].GrantID, DocumentID: "doc-1"}
	if err := s.AccessLog().Append(ctx, dup); !errors.Is(err, repository.ErrConflict) {
		t.Errorf("повторный grant_id: ожидали ErrConflict, получили %v", err)
	}
}

func TestConcurrentAppend(t *testing.T) {
	s := New()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.RunInTx(ctx, func(tx repository.Store) error {
				return tx.AccessLog().Append(ctx, &model.AccessGrant{GrantID: uuid.NewString(), DocumentID: "doc"})
			})
		}()
	}
	wg.Wait()

	rows, _ := s.AccessLog().ListByDocument(ctx, "doc", 100, 0)
	if len(rows) != 50 {
		t.Errorf("ожидали 50 записей, получили %d", len(rows))
	}
}

func TestClose(t *testing.T) {
	s := New()
	ctx := context.Background()
	if err := s.Ping(ctx); err != nil {
		t.Fatalf("Ping() ошибка: %v", err)
	}
	s.Close()
	if err := s.Ping(ctx); !errors.Is(err, repository.ErrClosed) {
		t.Errorf("Ping() после Close: %v", err)
	}
	if err := s.SigningKeys().Upsert(ctx, "alice", make([]byte, 32)); !errors.Is(err, repository.ErrClosed) {
		t.Errorf("Upsert() после Close: %v", err)
	}
}
