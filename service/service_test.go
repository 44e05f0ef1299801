// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package service

import (
	"bytes"
	"errors"
	"image"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/sharedimage"
	"github.com/gogpu/sharedimage/shm"
	"github.com/gogpu/sharedimage/texture"
)

func TestParseConfig(t *testing.T) {
	const src = `
thread_safe = true
display_context_on_another_thread = true
allow_shm_overlays = true
gpu_backend = "software"
memory_budget = "64 MiB"
client_id = 7
client_tracing_id = 99
`
	cfg, err := ParseConfig(strings.NewReader(src))
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}
	want := Config{
		ThreadSafe:                    true,
		DisplayContextOnAnotherThread: true,
		AllowShmOverlays:              true,
		EnableCompound:                true,
		GPUBackend:                    BackendSoftware,
		MemoryBudget:                  "64 MiB",
		ClientID:                      7,
		ClientTracingID:               99,
	}
	if cfg != want {
		t.Errorf("ParseConfig = %+v, want %+v", cfg, want)
	}
	if n, _ := cfg.BudgetBytes(); n != 64<<20 {
		t.Errorf("BudgetBytes() = %d, want %d", n, 64<<20)
	}
}

func TestParseConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"unknown key", `gpu_backnd = "software"`},
		{"bad backend", `gpu_backend = "vulkan"`},
		{"bad budget", `memory_budget = "lots"`},
		{"compound without gpu", "gpu_backend = \"none\"\nenable_compound = true"},
		{"malformed", `thread_safe = `},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseConfig(strings.NewReader(tt.src)); err == nil {
				t.Errorf("ParseConfig(%q) succeeded", tt.src)
			}
		})
	}
}

func TestLoadConfigWritten(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Passthrough = true
	cfg.MemoryBudget = "1 GiB"

	var buf bytes.Buffer
	if err := cfg.Write(&buf); err != nil {
		t.Fatalf("Write: %v", err)
	}
	path := filepath.Join(t.TempDir(), "sharedimage.toml")
	if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		t.Fatal(err)
	}
	got, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if got != cfg {
		t.Errorf("LoadConfig = %+v, want %+v", got, cfg)
	}

	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Error("LoadConfig of a missing file succeeded")
	}
}

func TestNewBackends(t *testing.T) {
	tests := []struct {
		name          string
		backend       string
		compound      bool
		wantErr       bool
		wantFactories []string
	}{
		{"software", BackendSoftware, true, false, []string{shm.FactoryName, texture.FactoryName}},
		{"none", BackendNone, false, false, []string{shm.FactoryName}},
		{"wgpu without provider", BackendWGPU, true, true, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.GPUBackend = tt.backend
			cfg.EnableCompound = tt.compound
			svc, err := New(cfg)
			if tt.wantErr {
				if err == nil {
					svc.Close()
					t.Fatal("New succeeded")
				}
				return
			}
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			defer svc.Close()
			got := svc.Factory().BackingFactories()
			if strings.Join(got, ",") != strings.Join(tt.wantFactories, ",") {
				t.Errorf("BackingFactories() = %v, want %v", got, tt.wantFactories)
			}
			if (svc.Device() == nil) != (tt.backend == BackendNone) {
				t.Errorf("Device() = %v", svc.Device())
			}
		})
	}
}

func TestWithBackingFactoryPreferred(t *testing.T) {
	extra := texture.NewFactory(texture.NewSoftwareDevice())
	cfg := DefaultConfig()
	cfg.GPUBackend = BackendNone
	cfg.EnableCompound = false
	svc, err := New(cfg, WithBackingFactory(extra))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer svc.Close()
	if got := svc.Factory().BackingFactories(); len(got) != 2 || got[0] != texture.FactoryName {
		t.Errorf("BackingFactories() = %v", got)
	}
}

func newDesc(usage sharedimage.Usage) sharedimage.Descriptor {
	return sharedimage.Descriptor{
		Mailbox: sharedimage.NewMailbox(),
		Format:  gputypes.TextureFormatBGRA8Unorm,
		Size:    image.Pt(16, 16),
		Usage:   usage,
	}
}

func TestServiceEndToEnd(t *testing.T) {
	svc, err := New(DefaultConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	d := newDesc(sharedimage.UsageCPUWrite | sharedimage.UsageGLES2 | sharedimage.UsageScanout)
	handle, err := shm.NewHandle(d)
	if err != nil {
		t.Fatalf("NewHandle: %v", err)
	}
	if err := svc.Factory().CreateSharedImageFromHandle(d, handle); err != nil {
		t.Fatalf("CreateSharedImageFromHandle: %v", err)
	}
	if got := svc.Stats().UsedBytes; got != 1024 {
		t.Errorf("Stats().UsedBytes = %d, want 1024", got)
	}

	client := svc.NewRepresentationFactory(2, 20)
	gl := client.ProduceGLTexture(d.Mailbox)
	if gl == nil {
		t.Fatal("ProduceGLTexture = nil")
	}
	a := gl.BeginScopedAccess(sharedimage.AccessModeRead, false)
	if a == nil {
		t.Fatal("BeginScopedAccess = nil")
	}
	a.End()

	var report bytes.Buffer
	if err := svc.DumpMemory(&report); err != nil {
		t.Fatalf("DumpMemory: %v", err)
	}
	name := sharedimage.DumpName(1, d.Mailbox)
	for _, want := range []string{
		name + " size=1.0 KiB usage=",
		name + "/shared_memory size=1.0 KiB",
		name + "/gpu size=1.0 KiB",
	} {
		if !strings.Contains(report.String(), want) {
			t.Errorf("report lacks %q:\n%s", want, report.String())
		}
	}

	// The client still holds a representation, so the image survives
	// the service.
	if err := svc.Close(); !errors.Is(err, sharedimage.ErrNotEmpty) {
		t.Errorf("Close() with a live representation = %v, want ErrNotEmpty", err)
	}
	gl.Close()
	if err := client.Close(); err != nil {
		t.Errorf("client Close() = %v", err)
	}
	if n := svc.Manager().Len(); n != 0 {
		t.Errorf("Manager().Len() = %d after last representation closed", n)
	}
}

func TestClientBudget(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MemoryBudget = "512 B"
	svc, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer svc.Close()

	d := newDesc(sharedimage.UsageGLES2)
	if err := svc.Factory().CreateSharedImage(d); err != nil {
		t.Fatalf("CreateSharedImage: %v", err)
	}
	stats := svc.Stats()
	if stats.BudgetBytes != 512 || stats.UsedBytes != 1024 {
		t.Errorf("Stats() = %+v", stats)
	}
	if !svc.tracker.OverBudget() {
		t.Error("OverBudget() = false")
	}
}
