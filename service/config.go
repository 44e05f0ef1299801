// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package service

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/dustin/go-humanize"
)

// GPU backends selectable in Config.GPUBackend.
const (
	BackendSoftware = "software"
	BackendWGPU     = "wgpu"
	BackendNone     = "none"
)

// Config configures a Service. It is usually loaded from a TOML file.
type Config struct {
	// ThreadSafe allows images to be used from several threads.
	ThreadSafe bool `toml:"thread_safe"`

	// DisplayContextOnAnotherThread is set when the display compositor
	// runs on its own thread.
	DisplayContextOnAnotherThread bool `toml:"display_context_on_another_thread"`

	// IsDisplayCompositor marks the service as owned by the display
	// compositor.
	IsDisplayCompositor bool `toml:"is_display_compositor"`

	// AllowShmOverlays lets compound images scan out shared memory.
	AllowShmOverlays bool `toml:"allow_shm_overlays"`

	// EnableCompound serves shared memory images that need GPU access
	// with compound backings.
	EnableCompound bool `toml:"enable_compound"`

	// GPUBackend is "software", "wgpu" or "none".
	GPUBackend string `toml:"gpu_backend"`

	// Passthrough creates textures for the passthrough GL decoder.
	Passthrough bool `toml:"passthrough"`

	// MemoryBudget bounds each client, such as "256 MiB". Empty means
	// unbounded.
	MemoryBudget string `toml:"memory_budget"`

	ClientID        int32  `toml:"client_id"`
	ClientTracingID uint64 `toml:"client_tracing_id"`
}

// DefaultConfig returns a single-threaded software configuration with
// compound backings enabled.
func DefaultConfig() Config {
	return Config{
		EnableCompound: true,
		GPUBackend:     BackendSoftware,
		ClientID:       1,
	}
}

// LoadConfig reads a TOML file over DefaultConfig.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("service: load config %s: %w", path, err)
	}
	if err := checkUndecoded(md); err != nil {
		return Config{}, fmt.Errorf("service: load config %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// ParseConfig decodes TOML from r over DefaultConfig.
func ParseConfig(r io.Reader) (Config, error) {
	cfg := DefaultConfig()
	md, err := toml.NewDecoder(r).Decode(&cfg)
	if err != nil {
		return Config{}, fmt.Errorf("service: parse config: %w", err)
	}
	if err := checkUndecoded(md); err != nil {
		return Config{}, fmt.Errorf("service: parse config: %w", err)
	}
	return cfg, cfg.Validate()
}

func checkUndecoded(md toml.MetaData) error {
	keys := md.Undecoded()
	if len(keys) == 0 {
		return nil
	}
	names := make([]string, len(keys))
	for i, k := range keys {
		names[i] = k.String()
	}
	return fmt.Errorf("unknown keys: %s", strings.Join(names, ", "))
}

// Write encodes c as TOML.
func (c Config) Write(w io.Writer) error {
	return toml.NewEncoder(w).Encode(c)
}

// Validate checks the backend name and the memory budget.
func (c Config) Validate() error {
	switch c.GPUBackend {
	case BackendSoftware, BackendWGPU, BackendNone:
	default:
		return fmt.Errorf("service: unknown gpu_backend %q", c.GPUBackend)
	}
	if c.GPUBackend == BackendNone && c.EnableCompound {
		return errors.New("service: enable_compound needs a gpu_backend")
	}
	if _, err := c.BudgetBytes(); err != nil {
		return err
	}
	return nil
}

// BudgetBytes parses MemoryBudget. It returns 0 when no budget is set.
func (c Config) BudgetBytes() (uint64, error) {
	if c.MemoryBudget == "" {
		return 0, nil
	}
	n, err := humanize.ParseBytes(c.MemoryBudget)
	if err != nil {
		return 0, fmt.Errorf("service: memory_budget %q: %w", c.MemoryBudget, err)
	}
	return n, nil
}
