package consumer

import (
	"context"
	"errors"
	"sync"

	"xhale-breath/internal/models"
)

type fakeDispatcher struct {
	mu       sync.Mutex
	events   []*models.SensorEvent
	commands []*models.Command
	err      error
}

func (f *fakeDispatcher) HandleSensorEvent(ctx context.Context, ev *models.SensorEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return f.err
}

func (f *fakeDispatcher) HandleCommand(ctx context.Context, cmd *models.Command) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, cmd)
	return f.err
}

func (f *fakeDispatcher) Events() []*models.SensorEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*models.SensorEvent(nil), f.events...)
}

func (f *fakeDispatcher) Commands() []*models.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*models.Command(nil), f.commands...)
}

var errDispatch = errors.New("dispatch failed")
