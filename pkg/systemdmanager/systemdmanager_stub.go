//go:build !linux

package systemdmanager

import (
	"context"
	"errors"
)

var ErrUnsupported = errors.New("systemdmanager: unsupported OS (linux only)")

type Manager struct{}

func Connect(ctx context.Context) (*Manager, error) { return nil, ErrUnsupported }

func (m *Manager) Do(ctx context.Context, action Action, unit string) error { return ErrUnsupported }

func (m *Manager) ActiveState(ctx context.Context, unit string) (string, error) {
	return "", ErrUnsupported
}

func (m *Manager) Close() error { return nil }
