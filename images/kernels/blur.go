// Package kernels provides pure-Go convolution kernels tuned for real-time
// video rates. The box blur here is the primitive behind the privacy
// composite: blur the whole frame once, then copy the sharp region of
// interest back over it.
package kernels

import (
	"image"
	"image/draw"
	"sync"
)

// EdgeMode defines how sampling behaves outside the image bounds.
// - Clamp: repeats edge pixels (fast, common, can darken edges slightly).
// - Mirror: reflects coordinates (better edge energy preservation).
// - Wrap: tiles the image (for periodic patterns).
type EdgeMode int

const (
	EdgeClamp EdgeMode = iota
	EdgeMirror
	EdgeWrap
)

// Options configures a blur call.
type Options struct {
	Radius   int      // Blur radius (window size = 2*Radius + 1). Must be >= 0.
	Edge     EdgeMode // Edge sampling mode.
	Pool     *Pool    // Optional buffer pool for intermediate/dst reuse.
	Parallel bool     // Enable row/column parallelism (good for 1080p+).
}

// Pool lets callers reuse large buffers to reduce GC pressure at 30-60 FPS
// video rates.
type Pool struct {
	rgba sync.Pool // *image.RGBA
}

// GetRGBA returns a pooled buffer matching bounds, or a fresh allocation.
func (p *Pool) GetRGBA(bounds image.Rectangle) *image.RGBA {
	if p == nil {
		return image.NewRGBA(bounds)
	}
	if v := p.rgba.Get(); v != nil {
		img := v.(*image.RGBA)
		if img.Rect == bounds {
			return img
		}
	}
	return image.NewRGBA(bounds)
}

// PutRGBA returns a buffer to the pool. The next writer fully overwrites it,
// so the contents are not cleared.
func (p *Pool) PutRGBA(img *image.RGBA) {
	if p == nil || img == nil {
		return
	}
	p.rgba.Put(img)
}

// BoxBlur applies a fast, separable box blur and returns a new *image.RGBA.
//
// The implementation converts to premultiplied RGBA once, then runs a sliding
// window per row/column so the cost per pixel is O(1) regardless of radius.
// Quality is lower than a true Gaussian; for heavy obscuring (privacy blur)
// the difference is irrelevant, and for a closer Gaussian approximation the
// blur can simply be run multiple times.
func BoxBlur(src image.Image, opt Options) *image.RGBA {
	r := opt.Radius
	if r <= 0 {
		// Return a copy in premultiplied RGBA so downstream usage is uniform.
		b := src.Bounds()
		dst := image.NewRGBA(b)
		draw.Draw(dst, b, src, b.Min, draw.Src)
		return dst
	}

	rgbaSrc := toRGBA(src)
	b := rgbaSrc.Rect

	tmp := opt.Pool.GetRGBA(b)
	dst := opt.Pool.GetRGBA(b)

	boxBlurHorizRGBA(rgbaSrc, tmp, r, opt.Edge, opt.Parallel)
	boxBlurVertRGBA(tmp, dst, r, opt.Edge, opt.Parallel)

	opt.Pool.PutRGBA(tmp)
	return dst
}

// BlurOutsideRegion blurs the whole frame except the given region, which is
// composited back sharp. This is the privacy-display primitive: one full
// blur plus a rectangle copy, with the region clipped to the frame bounds.
// An empty or fully-out-of-bounds region yields a fully blurred frame.
func BlurOutsideRegion(src image.Image, region image.Rectangle, opt Options) *image.RGBA {
	out := BoxBlur(src, opt)
	sharp := toRGBA(src)

	r := region.Intersect(sharp.Rect)
	if r.Empty() {
		return out
	}

	n := r.Dx() * 4
	for y := r.Min.Y; y < r.Max.Y; y++ {
		srcOff := (y-sharp.Rect.Min.Y)*sharp.Stride + (r.Min.X-sharp.Rect.Min.X)*4
		dstOff := (y-out.Rect.Min.Y)*out.Stride + (r.Min.X-out.Rect.Min.X)*4
		copy(out.Pix[dstOff:dstOff+n], sharp.Pix[srcOff:srcOff+n])
	}
	return out
}

// toRGBA returns a *image.RGBA view of src, converting only when the source
// is not already RGBA-backed.
func toRGBA(src image.Image) *image.RGBA {
	if r, ok := src.(*image.RGBA); ok {
		return r
	}
	b := src.Bounds()
	dst := image.NewRGBA(b)
	draw.Draw(dst, b, src, b.Min, draw.Src)
	return dst
}

// boxBlurHorizRGBA applies the horizontal pass using a sliding window:
// compute the initial sum for x in [-r..+r], then for each step right
// subtract the pixel leaving on the left and add the one entering on the
// right. Both images must share the same bounds.
func boxBlurHorizRGBA(src, dst *image.RGBA, r int, edge EdgeMode, parallel bool) {
	b := src.Rect
	w := b.Dx()
	h := b.Dy()
	if w == 0 || h == 0 {
		return
	}

	window := 2*r + 1
	rowTask := func(y int) {
		srcRowStart := y * src.Stride
		dstRowStart := y * dst.Stride

		load := func(xRel int) (r, g, b, a uint32) {
			xMap := mapCoord(xRel, w, edge)
			off := srcRowStart + xMap*4
			p := src.Pix[off : off+4 : off+4]
			return uint32(p[0]), uint32(p[1]), uint32(p[2]), uint32(p[3])
		}

		var sumR, sumG, sumB, sumA uint32
		for dx := -r; dx <= r; dx++ {
			r8, g8, b8, a8 := load(dx)
			sumR += r8
			sumG += g8
			sumB += b8
			sumA += a8
		}

		for x := 0; x < w; x++ {
			dstOff := dstRowStart + x*4
			dst.Pix[dstOff+0] = uint8((sumR + uint32(window/2)) / uint32(window))
			dst.Pix[dstOff+1] = uint8((sumG + uint32(window/2)) / uint32(window))
			dst.Pix[dstOff+2] = uint8((sumB + uint32(window/2)) / uint32(window))
			dst.Pix[dstOff+3] = uint8((sumA + uint32(window/2)) / uint32(window))

			// Slide: remove the sample at x-r, add the one at x+r+1.
			lr, lg, lb, la := load(x - r)
			rr, rg, rb, ra := load(x + r + 1)
			sumR += rr - lr
			sumG += rg - lg
			sumB += rb - lb
			sumA += ra - la
		}
	}

	if !parallel || h < 4 {
		for y := 0; y < h; y++ {
			rowTask(y)
		}
		return
	}

	chunk := chooseChunk(h)
	var wg sync.WaitGroup
	for start := 0; start < h; start += chunk {
		end := min(start+chunk, h)
		wg.Add(1)
		go func(s, e int) {
			defer wg.Done()
			for y := s; y < e; y++ {
				rowTask(y)
			}
		}(start, end)
	}
	wg.Wait()
}

// boxBlurVertRGBA mirrors the horizontal pass along columns.
func boxBlurVertRGBA(src, dst *image.RGBA, r int, edge EdgeMode, parallel bool) {
	b := src.Rect
	w := b.Dx()
	h := b.Dy()
	if w == 0 || h == 0 {
		return
	}

	window := 2*r + 1
	colTask := func(x int) {
		load := func(yRel int) (r, g, b, a uint32) {
			yMap := mapCoord(yRel, h, edge)
			off := yMap*src.Stride + x*4
			p := src.Pix[off : off+4 : off+4]
			return uint32(p[0]), uint32(p[1]), uint32(p[2]), uint32(p[3])
		}

		var sumR, sumG, sumB, sumA uint32
		for dy := -r; dy <= r; dy++ {
			r8, g8, b8, a8 := load(dy)
			sumR += r8
			sumG += g8
			sumB += b8
			sumA += a8
		}

		for y := 0; y < h; y++ {
			dstOff := y*dst.Stride + x*4
			dst.Pix[dstOff+0] = uint8((sumR + uint32(window/2)) / uint32(window))
			dst.Pix[dstOff+1] = uint8((sumG + uint32(window/2)) / uint32(window))
			dst.Pix[dstOff+2] = uint8((sumB + uint32(window/2)) / uint32(window))
			dst.Pix[dstOff+3] = uint8((sumA + uint32(window/2)) / uint32(window))

			lr, lg, lb, la := load(y - r)
			rr, rg, rb, ra := load(y + r + 1)
			sumR += rr - lr
			sumG += rg - lg
			sumB += rb - lb
			sumA += ra - la
		}
	}

	if !parallel || w < 4 {
		for x := 0; x < w; x++ {
			colTask(x)
		}
		return
	}

	chunk := chooseChunk(w)
	var wg sync.WaitGroup
	for start := 0; start < w; start += chunk {
		end := min(start+chunk, w)
		wg.Add(1)
		go func(s, e int) {
			defer wg.Done()
			for x := s; x < e; x++ {
				colTask(x)
			}
		}(start, end)
	}
	wg.Wait()
}

// mapCoord maps an index i to [0, n) according to edge mode.
func mapCoord(i, n int, mode EdgeMode) int {
	switch mode {
	case EdgeMirror:
		if n == 1 {
			return 0
		}
		for i < 0 || i >= n {
			if i < 0 {
				i = -i - 1
			} else {
				i = 2*n - i - 1
			}
		}
		return i
	case EdgeWrap:
		if n == 0 {
			return 0
		}
		i %= n
		if i < 0 {
			i += n
		}
		return i
	default: // EdgeClamp
		if i < 0 {
			return 0
		}
		if i >= n {
			return n - 1
		}
		return i
	}
}

// chooseChunk picks a work chunk size that balances goroutine overhead and
// cache locality.
func chooseChunk(n int) int {
	switch {
	case n >= 2048:
		return 128
	case n >= 512:
		return 64
	default:
		return 32
	}
}
