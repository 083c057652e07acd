package settings

import (
	"context"
	"errors"
	"sync"
	"testing"

	"papertrader/internal/model"
)

type memPersister struct {
	saved   *Settings
	loadErr error
	saveErr error
}

func (m *memPersister) LoadSettings(ctx context.Context) (Settings, bool, error) {
	if m.loadErr != nil {
		return Settings{}, false, m.loadErr
	}
	if m.saved == nil {
		return Settings{}, false, nil
	}
	return *m.saved, true, nil
}

func (m *memPersister) SaveSettings(ctx context.Context, s Settings) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saved = &s
	return nil
}

func ptr[T any](v T) *T { return &v }

func TestCell_ApplyPartial(t *testing.T) {
	p := &memPersister{}
	c := NewCell(Settings{ConfidenceThreshold: 0.6, AutoPaper: true}, p)

	got, err := c.Apply(context.Background(), Update{TestSignalMode: ptr(true)})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	want := Settings{ConfidenceThreshold: 0.6, TestSignalMode: true, AutoPaper: true}
	if got != want || c.Get() != want {
		t.Errorf("got %+v, want %+v", got, want)
	}
	if p.saved == nil || *p.saved != want {
		t.Errorf("persisted %+v, want %+v", p.saved, want)
	}
}

func TestCell_ApplyRejectsOutOfRange(t *testing.T) {
	c := NewCell(Settings{ConfidenceThreshold: 0.6}, nil)
	_, err := c.Apply(context.Background(), Update{ConfidenceThreshold: ptr(1.5), TestSignalMode: ptr(true)})
	if !errors.Is(err, model.ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
	if c.Threshold() != 0.6 || c.TestSignalMode() {
		t.Errorf("rejected update leaked: %+v", c.Get())
	}
}

func TestCell_PersistFailureKeepsValue(t *testing.T) {
	c := NewCell(Settings{ConfidenceThreshold: 0.6}, &memPersister{saveErr: errors.New("redis down")})
	if _, err := c.Apply(context.Background(), Update{ConfidenceThreshold: ptr(0.7)}); err != nil {
		t.Fatalf("persist failure must not fail the update: %v", err)
	}
	if c.Threshold() != 0.7 {
		t.Errorf("threshold: got %v, want 0.7", c.Threshold())
	}
}

func TestCell_Load(t *testing.T) {
	stored := Settings{ConfidenceThreshold: 0.3, TestSignalMode: true}
	c := NewCell(Settings{ConfidenceThreshold: 0.6, AutoPaper: true}, &memPersister{saved: &stored})
	if !c.Load(context.Background()) {
		t.Fatal("expected stored settings to load")
	}
	if c.Get() != stored {
		t.Errorf("got %+v, want %+v", c.Get(), stored)
	}

	c = NewCell(Settings{ConfidenceThreshold: 0.6}, &memPersister{loadErr: errors.New("boom")})
	if c.Load(context.Background()) || c.Threshold() != 0.6 {
		t.Error("failed load must keep defaults")
	}

	bad := Settings{ConfidenceThreshold: 7}
	c = NewCell(Settings{ConfidenceThreshold: 0.6}, &memPersister{saved: &bad})
	if c.Load(context.Background()) || c.Threshold() != 0.6 {
		t.Error("invalid stored settings must be ignored")
	}

	if NewCell(Settings{}, nil).Load(context.Background()) {
		t.Error("cell without store should report nothing loaded")
	}
}

func TestCell_ConcurrentReadWrite(t *testing.T) {
	c := NewCell(Settings{ConfidenceThreshold: 0.5}, nil)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			c.Apply(context.Background(), Update{ConfidenceThreshold: ptr(float64(i) / 10)})
		}(i)
		go func() {
			defer wg.Done()
			_ = c.Threshold()
		}()
	}
	wg.Wait()
	if th := c.Threshold(); th < 0 || th > 0.7 {
		t.Errorf("unexpected threshold %v", th)
	}
}
