package sharedimage

import (
	"testing"

	"github.com/gogpu/gputypes"
)

// BenchmarkPixmapCopyFrom compares row copies against format conversion,
// the two paths taken when syncing shared memory with a texture.
func BenchmarkPixmapCopyFrom(b *testing.B) {
	benchmarks := []struct {
		name string
		dst  gputypes.TextureFormat
		size int
	}{
		{"Same_256", gputypes.TextureFormatRGBA8Unorm, 256},
		{"Same_1024", gputypes.TextureFormatRGBA8Unorm, 1024},
		{"Convert_256", gputypes.TextureFormatBGRA8Unorm, 256},
		{"Convert_1024", gputypes.TextureFormatBGRA8Unorm, 1024},
	}

	for _, bm := range benchmarks {
		src := NewPixmap(gputypes.TextureFormatRGBA8Unorm, bm.size, bm.size)
		dst := NewPixmap(bm.dst, bm.size, bm.size)
		b.Run(bm.name, func(b *testing.B) {
			b.SetBytes(int64(len(src.Data())))
			for i := 0; i < b.N; i++ {
				if err := dst.CopyFrom(src); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

// BenchmarkPixmapPacked measures repacking a padded pixmap.
func BenchmarkPixmapPacked(b *testing.B) {
	const w, h, stride = 500, 500, 2048
	p, err := WrapPixmap(gputypes.TextureFormatRGBA8Unorm, w, h, stride, make([]byte, stride*h))
	if err != nil {
		b.Fatal(err)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = p.Packed()
	}
}
