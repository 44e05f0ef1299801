// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

// Command sharedimage-check exercises the shared image service end to end
// and prints its memory report.
//
// It imports shared memory images, fills them on the CPU, reads them
// through the GPU path, draws over them on the GPU, copies the result back
// and checks the pixels.
package main

import (
	"flag"
	"fmt"
	"image"
	"image/color"
	"log"
	"log/slog"
	"os"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/sharedimage"
	"github.com/gogpu/sharedimage/service"
	"github.com/gogpu/sharedimage/shm"
	"golang.org/x/image/draw"
)

func main() {
	var (
		configPath = flag.String("config", "", "TOML configuration file")
		count      = flag.Int("n", 4, "number of images")
		width      = flag.Int("width", 256, "image width")
		height     = flag.Int("height", 256, "image height")
		verbose    = flag.Bool("v", false, "log at debug level")
	)
	flag.Parse()

	if *verbose {
		sharedimage.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
	}

	cfg := service.DefaultConfig()
	if *configPath != "" {
		var err error
		if cfg, err = service.LoadConfig(*configPath); err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
	}

	svc, err := service.New(cfg)
	if err != nil {
		log.Fatalf("Failed to start service: %v", err)
	}

	client := svc.NewRepresentationFactory(cfg.ClientID+1, cfg.ClientTracingID+1)
	size := image.Pt(*width, *height)
	for i := 0; i < *count; i++ {
		if err := exercise(svc, client, size, i); err != nil {
			log.Fatalf("Image %d: %v", i, err)
		}
	}

	if err := svc.DumpMemory(os.Stdout); err != nil {
		log.Fatalf("Failed to dump memory: %v", err)
	}
	log.Printf("%v", svc.Stats())

	if err := client.Close(); err != nil {
		log.Fatalf("Client teardown: %v", err)
	}
	if err := svc.Close(); err != nil {
		log.Fatalf("Service teardown: %v", err)
	}
}

func exercise(svc *service.Service, client clientFactory, size image.Point, i int) error {
	desc := sharedimage.Descriptor{
		Mailbox: sharedimage.NewMailbox(),
		Format:  gputypes.TextureFormatRGBA8Unorm,
		Size:    size,
		Usage: sharedimage.UsageCPUWrite | sharedimage.UsageGLES2 | sharedimage.UsageRaster |
			sharedimage.UsageDisplay | sharedimage.UsageScanout,
	}
	handle, err := shm.NewHandle(desc)
	if err != nil {
		return err
	}
	if err := svc.Factory().CreateSharedImageFromHandle(desc, handle); err != nil {
		return err
	}

	// CPU fill, visible to the GPU after Update.
	mem := client.ProduceMemory(desc.Mailbox)
	if mem == nil {
		return fmt.Errorf("no memory representation for %v", desc.Mailbox)
	}
	defer mem.Close()
	access := mem.BeginScopedReadAccess()
	if access == nil {
		return fmt.Errorf("memory access refused")
	}
	cpu := access.Pixmap()
	access.End()
	cpu.Fill(color.RGBA{R: uint8(i * 40), G: 128, B: 255, A: 255})
	if err := svc.Factory().UpdateSharedImage(desc.Mailbox, nil); err != nil {
		return err
	}

	skia := client.ProduceSkia(desc.Mailbox)
	if skia == nil {
		log.Printf("Image %d: no GPU path, kept in shared memory", i)
		return nil
	}
	defer skia.Close()

	read := skia.BeginScopedReadAccess()
	if read == nil {
		return fmt.Errorf("GPU read refused")
	}
	got := color.RGBAModel.Convert(read.Image().At(0, 0)).(color.RGBA)
	read.End()
	if want := (color.RGBA{R: uint8(i * 40), G: 128, B: 255, A: 255}); got != want {
		return fmt.Errorf("GPU read %v, want %v", got, want)
	}

	write := skia.BeginScopedWriteAccess(false)
	if write == nil {
		return fmt.Errorf("GPU write refused")
	}
	surface := write.Surface()
	half := surface.Bounds()
	half.Max.X = half.Min.X + half.Dx()/2
	draw.Draw(surface, half, image.NewUniform(color.RGBA{R: 255, A: 255}), image.Point{}, draw.Src)
	write.End()

	if err := svc.Factory().CopyToGpuMemoryBuffer(desc.Mailbox); err != nil {
		return err
	}
	if px := cpu.Row(0)[:4]; px[0] != 255 || px[1] != 0 {
		return fmt.Errorf("readback pixel %v, want red", px)
	}
	log.Printf("Image %d: %v %dx%d ok", i, desc.Mailbox, size.X, size.Y)
	return nil
}

type clientFactory interface {
	ProduceMemory(sharedimage.Mailbox) *sharedimage.MemoryRepresentation
	ProduceSkia(sharedimage.Mailbox) *sharedimage.SkiaRepresentation
}
