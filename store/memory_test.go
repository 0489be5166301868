package store

import (
	"context"
	"errors"
	"sync"
	"testing"

	"fieldservice-server/models"
)

func seedTechnician(t *testing.T, s *MemoryStore, id string) {
	t.Helper()
	err := s.RunTransaction(context.Background(), func(tx Tx) error {
		return tx.CreateTechnician(&models.Technician{ID: id, Name: "Tech " + id, IsAvailable: true})
	})
	if err != nil {
		t.Fatalf("seed technician: %v", err)
	}
}

func TestMemoryStoreCreateAssignsVersionOne(t *testing.T) {
	s := NewMemoryStore()
	seedTechnician(t, s, "T1")

	tech, err := s.GetTechnician(context.Background(), "T1")
	if err != nil {
		t.Fatalf("GetTechnician() error = %v", err)
	}
	if tech.Version != 1 {
		t.Errorf("Version = %d, want 1", tech.Version)
	}
	if tech.CreatedAt.IsZero() || tech.UpdatedAt.IsZero() {
		t.Errorf("timestamps not set: %+v", tech)
	}
}

func TestMemoryStoreCreateDuplicate(t *testing.T) {
	s := NewMemoryStore()
	seedTechnician(t, s, "T1")

	err := s.RunTransaction(context.Background(), func(tx Tx) error {
		return tx.CreateTechnician(&models.Technician{ID: "T1"})
	})
	if !errors.Is(err, ErrDuplicate) {
		t.Errorf("RunTransaction() error = %v, want ErrDuplicate", err)
	}
}

func TestMemoryStoreRollbackOnError(t *testing.T) {
	s := NewMemoryStore()
	seedTechnician(t, s, "T1")
	boom := errors.New("boom")

	err := s.RunTransaction(context.Background(), func(tx Tx) error {
		tech, err := tx.GetTechnician("T1")
		if err != nil {
			return err
		}
		tech.IsAvailable = false
		if err := tx.UpdateTechnician(tech); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("RunTransaction() error = %v, want boom", err)
	}

	tech, _ := s.GetTechnician(context.Background(), "T1")
	if !tech.IsAvailable || tech.Version != 1 {
		t.Errorf("technician mutated by failed transaction: %+v", tech)
	}
}

func TestMemoryStoreReadYourWrites(t *testing.T) {
	s := NewMemoryStore()
	seedTechnician(t, s, "T1")

	err := s.RunTransaction(context.Background(), func(tx Tx) error {
		tech, _ := tx.GetTechnician("T1")
		tech.Name = "Renamed"
		if err := tx.UpdateTechnician(tech); err != nil {
			return err
		}
		again, err := tx.GetTechnician("T1")
		if err != nil {
			return err
		}
		if again.Name != "Renamed" {
			t.Errorf("read inside tx Name = %q, want Renamed", again.Name)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("RunTransaction() error = %v", err)
	}
}

func TestMemoryStoreStaleUpdateConflicts(t *testing.T) {
	s := NewMemoryStore()
	seedTechnician(t, s, "T1")

	err := s.RunTransaction(context.Background(), func(tx Tx) error {
		tech, _ := tx.GetTechnician("T1")
		tech.Version = 7
		return tx.UpdateTechnician(tech)
	})
	if !errors.Is(err, ErrConflict) {
		t.Errorf("RunTransaction() error = %v, want ErrConflict", err)
	}
}

func TestMemoryStoreConcurrentIncrements(t *testing.T) {
	s := NewMemoryStore(WithMaxAttempts(1000))
	seedTechnician(t, s, "T1")

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.RunTransaction(context.Background(), func(tx Tx) error {
				tech, err := tx.GetTechnician("T1")
				if err != nil {
					return err
				}
				tech.Name += "x"
				return tx.UpdateTechnician(tech)
			})
			if err != nil {
				t.Errorf("RunTransaction() error = %v", err)
			}
		}()
	}
	wg.Wait()

	tech, _ := s.GetTechnician(context.Background(), "T1")
	if tech.Version != n+1 {
		t.Errorf("Version = %d, want %d", tech.Version, n+1)
	}
	if got := len(tech.Name) - len("Tech T1"); got != n {
		t.Errorf("applied %d updates, want %d", got, n)
	}
}

func TestMemoryStorePublishesInCommitOrder(t *testing.T) {
	var mu sync.Mutex
	var got []int64
	s := NewMemoryStore(WithChangeSink(ChangeSinkFunc(func(ch models.Change) {
		mu.Lock()
		defer mu.Unlock()
		if ch.Kind == models.KindTechnician {
			got = append(got, ch.Version)
		}
	})))
	seedTechnician(t, s, "T1")

	for i := 0; i < 3; i++ {
		err := s.RunTransaction(context.Background(), func(tx Tx) error {
			tech, _ := tx.GetTechnician("T1")
			tech.Name = "n"
			return tx.UpdateTechnician(tech)
		})
		if err != nil {
			t.Fatalf("RunTransaction() error = %v", err)
		}
	}

	want := []int64{1, 2, 3, 4}
	if len(got) != len(want) {
		t.Fatalf("published versions = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("published versions = %v, want %v", got, want)
			break
		}
	}
}

func TestMemoryStoreFailedTransactionPublishesNothing(t *testing.T) {
	published := 0
	s := NewMemoryStore(WithChangeSink(ChangeSinkFunc(func(models.Change) { published++ })))

	_ = s.RunTransaction(context.Background(), func(tx Tx) error {
		if err := tx.CreateTechnician(&models.Technician{ID: "T1"}); err != nil {
			return err
		}
		return errors.New("abort")
	})
	if published != 0 {
		t.Errorf("published %d changes for an aborted transaction", published)
	}
}

func TestMemoryStoreMarkEventProcessed(t *testing.T) {
	s := NewMemoryStore()
	mark := func() bool {
		var fresh bool
		err := s.RunTransaction(context.Background(), func(tx Tx) error {
			var err error
			fresh, err = tx.MarkEventProcessed("evt_1", "payment_intent.canceled")
			return err
		})
		if err != nil {
			t.Fatalf("RunTransaction() error = %v", err)
		}
		return fresh
	}

	if !mark() {
		t.Error("first MarkEventProcessed() = false, want true")
	}
	if mark() {
		t.Error("second MarkEventProcessed() = true, want false")
	}
}

func TestMemoryStoreListOpenRepairs(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	for _, id := range []string{"r1", "r2", "r3"} {
		if err := s.SaveRepair(ctx, &models.BookkeepingRepair{ID: id, BookingID: "B-" + id}); err != nil {
			t.Fatalf("SaveRepair() error = %v", err)
		}
	}
	r2, _ := s.GetRepair(ctx, "r2")
	now := r2.CreatedAt
	r2.ResolvedAt = &now
	if err := s.SaveRepair(ctx, r2); err != nil {
		t.Fatalf("SaveRepair() error = %v", err)
	}

	open, err := s.ListOpenRepairs(ctx, 10)
	if err != nil {
		t.Fatalf("ListOpenRepairs() error = %v", err)
	}
	if len(open) != 2 {
		t.Fatalf("ListOpenRepairs() returned %d entries, want 2", len(open))
	}
	for _, r := range open {
		if r.ID == "r2" {
			t.Errorf("resolved repair r2 listed as open")
		}
	}
}
