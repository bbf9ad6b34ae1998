//go:build linux

package systemdmanager

import (
	"context"
	"fmt"
	"sync"

	"github.com/coreos/go-systemd/v22/dbus"
)

// Manager holds one system bus connection.
type Manager struct {
	mu   sync.RWMutex
	conn *dbus.Conn
}

// Connect opens a connection to the system manager.
func Connect(ctx context.Context) (*Manager, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	conn, err := dbus.NewSystemConnectionContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to systemd: %w", err)
	}
	return &Manager{conn: conn}, nil
}

// Do runs action on unit and waits until systemd reports the job result.
func (m *Manager) Do(ctx context.Context, action Action, unit string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.conn == nil {
		return ErrClosed
	}
	name := UnitName(unit)
	done := make(chan string, 1)

	var err error
	switch action {
	case ActionStart:
		_, err = m.conn.StartUnitContext(ctx, name, "replace", done)
	case ActionStop:
		_, err = m.conn.StopUnitContext(ctx, name, "replace", done)
	case ActionRestart:
		_, err = m.conn.RestartUnitContext(ctx, name, "replace", done)
	case ActionReload:
		_, err = m.conn.ReloadUnitContext(ctx, name, "replace", done)
	default:
		return fmt.Errorf("unknown unit action %q", action)
	}
	if err != nil {
		return fmt.Errorf("failed to %s %s: %w", action, name, err)
	}

	select {
	case res := <-done:
		if res != "done" {
			return &JobError{Unit: name, Action: action, Result: res}
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ActiveState returns the unit's ActiveState (active, inactive, failed, ...).
func (m *Manager) ActiveState(ctx context.Context, unit string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.conn == nil {
		return "", ErrClosed
	}
	p, err := m.conn.GetUnitPropertyContext(ctx, UnitName(unit), "ActiveState")
	if err != nil {
		return "", err
	}
	s, _ := p.Value.Value().(string)
	return s, nil
}

func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
	return nil
}
