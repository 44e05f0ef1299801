// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

// Package service wires a shared image Manager, its backing factories and
// per-client memory accounting into one explicitly owned object.
//
// Each GPU process (or test) builds its own Service; there is no
// process-wide instance.
//
//	svc, err := service.New(service.DefaultConfig())
//	if err != nil {
//		return err
//	}
//	defer svc.Close()
//
//	client := svc.NewRepresentationFactory(2, 0)
//	err = svc.Factory().CreateSharedImageFromHandle(desc, handle)
package service

import (
	"errors"
	"fmt"
	"io"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/sharedimage"
	"github.com/gogpu/sharedimage/factory"
	"github.com/gogpu/sharedimage/memdump"
	"github.com/gogpu/sharedimage/shm"
	"github.com/gogpu/sharedimage/texture"
)

// Service owns the shared image registry of one GPU process.
type Service struct {
	cfg     Config
	budget  uint64
	manager *sharedimage.Manager
	tracker *sharedimage.MemoryTracker
	device  texture.Device
	images  *factory.SharedImageFactory
}

type options struct {
	provider gpucontext.DeviceProvider
	extra    []sharedimage.BackingFactory
}

// Option configures New.
type Option func(*options)

// WithDeviceProvider supplies the GPU device for the "wgpu" backend.
func WithDeviceProvider(p gpucontext.DeviceProvider) Option {
	return func(o *options) { o.provider = p }
}

// WithBackingFactory registers an additional backing factory. Extra
// factories are preferred over the built-in ones.
func WithBackingFactory(bf sharedimage.BackingFactory) Option {
	return func(o *options) { o.extra = append(o.extra, bf) }
}

// New builds a service from cfg.
func New(cfg Config, opts ...Option) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	budget, _ := cfg.BudgetBytes()
	s := &Service{
		cfg:    cfg,
		budget: budget,
		manager: sharedimage.NewManager(
			sharedimage.WithThreadSafe(cfg.ThreadSafe),
			sharedimage.WithDisplayContextOnAnotherThread(cfg.DisplayContextOnAnotherThread),
		),
	}
	s.tracker = s.newTracker(cfg.ClientID, cfg.ClientTracingID)

	device, err := newDevice(cfg.GPUBackend, o.provider)
	if err != nil {
		return nil, err
	}
	s.device = device

	s.images = factory.New(s.manager, s.tracker,
		factory.WithCompound(cfg.EnableCompound),
		factory.WithShmOverlays(cfg.AllowShmOverlays),
		factory.WithDisplayCompositor(cfg.IsDisplayCompositor),
	)
	for _, bf := range o.extra {
		s.images.RegisterBackingFactory(bf)
	}
	s.images.RegisterBackingFactory(shm.NewFactory())
	if device != nil {
		s.images.RegisterBackingFactory(texture.NewFactory(device, texture.WithPassthrough(cfg.Passthrough)))
	}

	sharedimage.Logger().Info("service: started",
		"backend", cfg.GPUBackend, "compound", cfg.EnableCompound,
		"thread_safe", cfg.ThreadSafe, "factories", s.images.BackingFactories())
	return s, nil
}

func newDevice(backend string, provider gpucontext.DeviceProvider) (texture.Device, error) {
	switch backend {
	case BackendSoftware:
		return texture.NewSoftwareDevice(), nil
	case BackendWGPU:
		if provider == nil {
			return nil, errors.New("service: wgpu backend needs a device provider")
		}
		d, err := texture.NewWGPUDevice(provider)
		if err != nil {
			return nil, fmt.Errorf("service: %w", err)
		}
		return d, nil
	}
	return nil, nil
}

func (s *Service) newTracker(clientID int32, tracingID uint64) *sharedimage.MemoryTracker {
	var opts []sharedimage.MemoryTrackerOption
	if s.budget > 0 {
		opts = append(opts, sharedimage.WithBudget(s.budget))
	}
	return sharedimage.NewMemoryTracker(clientID, tracingID, opts...)
}

// Config returns the configuration the service was built with.
func (s *Service) Config() Config { return s.cfg }

// Manager returns the shared image registry.
func (s *Service) Manager() *sharedimage.Manager { return s.manager }

// Factory returns the factory creating and destroying images.
func (s *Service) Factory() *factory.SharedImageFactory { return s.images }

// Device returns the texture device, or nil for the "none" backend.
func (s *Service) Device() texture.Device { return s.device }

// Stats returns the memory held by the service's own references.
func (s *Service) Stats() sharedimage.MemoryStats { return s.tracker.Stats() }

// NewRepresentationFactory returns a factory for a client. The client gets
// its own tracker with the configured budget.
func (s *Service) NewRepresentationFactory(clientID int32, tracingID uint64) *factory.RepresentationFactory {
	return factory.NewRepresentationFactory(s.manager, s.newTracker(clientID, tracingID))
}

// DumpMemory writes a memory report of every image the service holds.
func (s *Service) DumpMemory(w io.Writer) error {
	pmd := memdump.New()
	s.images.OnMemoryDump(pmd)
	_, err := pmd.WriteTo(w)
	return err
}

// Close destroys every image and checks that none outlived the service.
// Images kept alive by unreleased representations are reported as
// ErrNotEmpty.
func (s *Service) Close() error {
	s.images.Close()
	if err := s.manager.Close(); err != nil {
		return fmt.Errorf("service: %w", err)
	}
	return nil
}
