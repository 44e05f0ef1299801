// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

// Package memdump collects the memory dump records shared images emit
// into an in-process graph of allocator dumps and ownership edges, and
// renders it as a text report.
package memdump

import (
	"cmp"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/gogpu/sharedimage"
)

// Edge is an ownership edge between two dump nodes.
type Edge struct {
	Source     sharedimage.DumpGUID
	Target     sharedimage.DumpGUID
	Importance int
}

// ProcessMemoryDump is a sharedimage.DumpSink that keeps everything it is
// given.
//
// ProcessMemoryDump is safe for concurrent use.
type ProcessMemoryDump struct {
	mu      sync.Mutex
	dumps   map[string]*AllocatorDump
	globals map[sharedimage.DumpGUID]*AllocatorDump
	edges   map[sharedimage.DumpGUID]Edge
}

var _ sharedimage.DumpSink = (*ProcessMemoryDump)(nil)

// New returns an empty dump.
func New() *ProcessMemoryDump {
	return &ProcessMemoryDump{
		dumps:   make(map[string]*AllocatorDump),
		globals: make(map[sharedimage.DumpGUID]*AllocatorDump),
		edges:   make(map[sharedimage.DumpGUID]Edge),
	}
}

// CreateAllocatorDump returns the dump named name, creating it on first
// use. Its GUID is derived from the name.
func (p *ProcessMemoryDump) CreateAllocatorDump(name string) sharedimage.AllocatorDump {
	p.mu.Lock()
	defer p.mu.Unlock()
	if d, ok := p.dumps[name]; ok {
		return d
	}
	d := newAllocatorDump(name, sharedimage.GUIDForName(name), false)
	p.dumps[name] = d
	return d
}

// CreateSharedGlobalAllocatorDump returns the global node for guid,
// creating it on first use.
func (p *ProcessMemoryDump) CreateSharedGlobalAllocatorDump(guid sharedimage.DumpGUID) sharedimage.AllocatorDump {
	p.mu.Lock()
	defer p.mu.Unlock()
	if d, ok := p.globals[guid]; ok {
		return d
	}
	d := newAllocatorDump("global/"+string(guid), guid, true)
	p.globals[guid] = d
	return d
}

// AddOwnershipEdge records that source owns target. A node owns at most
// one target; adding an edge again keeps the higher importance.
func (p *ProcessMemoryDump) AddOwnershipEdge(source, target sharedimage.DumpGUID, importance int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.edges[source]; ok && e.Target == target && e.Importance > importance {
		importance = e.Importance
	}
	p.edges[source] = Edge{Source: source, Target: target, Importance: importance}
}

// Dump returns the allocator dump with the given name, or nil.
func (p *ProcessMemoryDump) Dump(name string) *AllocatorDump {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dumps[name]
}

// Global returns the shared global node for guid, or nil.
func (p *ProcessMemoryDump) Global(guid sharedimage.DumpGUID) *AllocatorDump {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.globals[guid]
}

// Edge returns the edge owned by source.
func (p *ProcessMemoryDump) Edge(source sharedimage.DumpGUID) (Edge, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.edges[source]
	return e, ok
}

// Dumps returns the named allocator dumps sorted by name.
func (p *ProcessMemoryDump) Dumps() []*AllocatorDump {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.SortedFunc(maps.Values(p.dumps), func(a, b *AllocatorDump) int {
		return cmp.Compare(a.name, b.name)
	})
}

// Edges returns all edges sorted by source.
func (p *ProcessMemoryDump) Edges() []Edge {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.SortedFunc(maps.Values(p.edges), func(a, b Edge) int {
		return cmp.Compare(a.Source, b.Source)
	})
}

// TotalSize sums the size of the dumps directly below prefix. Child
// nodes are skipped so that memory is not counted twice.
func (p *ProcessMemoryDump) TotalSize(prefix string) uint64 {
	var total uint64
	for _, d := range p.Dumps() {
		if !strings.HasPrefix(d.name, prefix) || strings.Contains(d.name[len(prefix):], "/") {
			continue
		}
		if v, ok := d.Scalar(sharedimage.DumpSizeName); ok {
			total += v
		}
	}
	return total
}

// WriteTo writes a report with one line per dump and edge.
func (p *ProcessMemoryDump) WriteTo(w io.Writer) (int64, error) {
	var b strings.Builder
	for _, d := range p.Dumps() {
		fmt.Fprintf(&b, "%s", d.name)
		if size, ok := d.Scalar(sharedimage.DumpSizeName); ok {
			fmt.Fprintf(&b, " size=%s", humanize.IBytes(size))
		}
		if usage, ok := d.Attr(sharedimage.DumpUsageName); ok {
			fmt.Fprintf(&b, " usage=%s", usage)
		}
		b.WriteByte('\n')
	}
	for _, e := range p.Edges() {
		fmt.Fprintf(&b, "edge %s -> %s importance=%d\n", e.Source, e.Target, e.Importance)
	}
	n, err := io.WriteString(w, b.String())
	return int64(n), err
}

// AllocatorDump is one node of a ProcessMemoryDump.
type AllocatorDump struct {
	name   string
	guid   sharedimage.DumpGUID
	global bool

	mu      sync.Mutex
	scalars map[string]uint64
	attrs   map[string]string
}

func newAllocatorDump(name string, guid sharedimage.DumpGUID, global bool) *AllocatorDump {
	return &AllocatorDump{
		name:    name,
		guid:    guid,
		global:  global,
		scalars: make(map[string]uint64),
		attrs:   make(map[string]string),
	}
}

func (d *AllocatorDump) Name() string               { return d.name }
func (d *AllocatorDump) GUID() sharedimage.DumpGUID { return d.guid }
func (d *AllocatorDump) IsGlobal() bool             { return d.global }

// AddScalar sets a numeric attribute. Units are not kept since every
// scalar shared images emit is in bytes.
func (d *AllocatorDump) AddScalar(name, _ string, value uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.scalars[name] = value
}

func (d *AllocatorDump) AddString(name, _, value string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.attrs[name] = value
}

// Scalar returns a numeric attribute.
func (d *AllocatorDump) Scalar(name string) (uint64, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	v, ok := d.scalars[name]
	return v, ok
}

// Attr returns a string attribute.
func (d *AllocatorDump) Attr(name string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	v, ok := d.attrs[name]
	return v, ok
}
