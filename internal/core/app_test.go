package core

import (
	"context"
	"errors"
	"testing"
)

// lifecycleModule records start/stop ordering into a shared log.
type lifecycleModule struct {
	id       ModuleID
	log      *[]string
	startErr error
}

func (m *lifecycleModule) ModuleInfo() ModuleInfo {
	id := m.id
	log := m.log
	startErr := m.startErr
	return ModuleInfo{
		ID: id,
		New: func() Module {
			return &lifecycleModule{id: id, log: log, startErr: startErr}
		},
	}
}

func (m *lifecycleModule) Start() error {
	if m.startErr != nil {
		return m.startErr
	}
	*m.log = append(*m.log, "start:"+string(m.id))
	return nil
}

func (m *lifecycleModule) Stop(_ context.Context) error {
	*m.log = append(*m.log, "stop:"+string(m.id))
	return nil
}

func TestApp_StartStopOrder(t *testing.T) {
	t.Cleanup(resetRegistry)

	var log []string
	RegisterModule(&lifecycleModule{id: "test.a", log: &log})
	RegisterModule(&lifecycleModule{id: "test.b", log: &log})

	app := NewApp(NewAppContext(nil, "/data"))
	if err := app.LoadModules([]string{"test.a", "test.b"}); err != nil {
		t.Fatalf("LoadModules: %v", err)
	}
	if err := app.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	app.Stop()

	want := []string{"start:test.a", "start:test.b", "stop:test.b", "stop:test.a"}
	if len(log) != len(want) {
		t.Fatalf("lifecycle log = %v, want %v", log, want)
	}
	for i := range want {
		if log[i] != want[i] {
			t.Errorf("log[%d] = %q, want %q", i, log[i], want[i])
		}
	}
}

func TestApp_StartFailureRollsBack(t *testing.T) {
	t.Cleanup(resetRegistry)

	var log []string
	RegisterModule(&lifecycleModule{id: "test.ok", log: &log})
	RegisterModule(&lifecycleModule{id: "test.bad", log: &log, startErr: errors.New("boom")})

	app := NewApp(NewAppContext(nil, "/data"))
	if err := app.LoadModules([]string{"test.ok", "test.bad"}); err != nil {
		t.Fatalf("LoadModules: %v", err)
	}
	if err := app.Start(); err == nil {
		t.Fatal("expected Start to fail")
	}

	// The already-started module is stopped again.
	want := []string{"start:test.ok", "stop:test.ok"}
	if len(log) != len(want) || log[0] != want[0] || log[1] != want[1] {
		t.Errorf("lifecycle log = %v, want %v", log, want)
	}
}

func TestApp_LoadUnknownModule(t *testing.T) {
	t.Cleanup(resetRegistry)

	app := NewApp(NewAppContext(nil, "/data"))
	if err := app.LoadModules([]string{"nope.missing"}); err == nil {
		t.Fatal("expected error for unknown module")
	}
}
