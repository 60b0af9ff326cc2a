// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package device

import (
	"sync"

	"github.com/rohos/kernel/pkg/errors"
)

// MouseState is the snapshot MOUSE_GET_STATE reports.
type MouseState struct {
	X, Y    int32
	Buttons uint8
}

// Graphics is the framebuffer surface behind the GFX_*/MOUSE_GET_STATE
// syscalls: mode switching, pixel/primitive drawing, blit, and the
// double-buffer flip. spec §1 places VGA register programming and the
// GUI window manager out of scope. pkg/syscall holds one as
// Kernel.Graphics but registers no handler for the GFX_* or
// MOUSE_GET_STATE numbers, so no syscall reaches it.
type Graphics interface {
	SetMode(mode, width, height uint32) error
	Mode() (mode, width, height uint32)
	Clear(color uint32)
	PutPixel(x, y int32, color uint32) error
	DrawRect(x, y, w, h int32, color uint32) error
	FillRect(x, y, w, h int32, color uint32) error
	DrawLine(x0, y0, x1, y1 int32, color uint32) error
	DrawChar(x, y int32, ch byte, color uint32) error
	Print(x, y int32, s string, color uint32) error
	Blit(x, y, w, h int32, pixels []uint32) error
	Flip()
	EnableDoubleBuffer(enabled bool)
	MouseState() MouseState
}

// MemGraphics is an in-process framebuffer: a flat []uint32 backing
// store, one front and (when double buffering is enabled) one back
// buffer, swapped on Flip.
type MemGraphics struct {
	mu            sync.Mutex
	mode          uint32
	width, height uint32
	front         []uint32
	back          []uint32
	doubleBuf     bool
	mouse         MouseState
}

// NewMemGraphics creates a MemGraphics at the given starting mode.
func NewMemGraphics(mode, width, height uint32) *MemGraphics {
	return &MemGraphics{
		mode: mode, width: width, height: height,
		front: make([]uint32, width*height),
	}
}

func (g *MemGraphics) target() []uint32 {
	if g.doubleBuf {
		return g.back
	}
	return g.front
}

func (g *MemGraphics) SetMode(mode, width, height uint32) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.mode, g.width, g.height = mode, width, height
	g.front = make([]uint32, width*height)
	if g.doubleBuf {
		g.back = make([]uint32, width*height)
	}
	return nil
}

func (g *MemGraphics) Mode() (uint32, uint32, uint32) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.mode, g.width, g.height
}

func (g *MemGraphics) Clear(color uint32) {
	g.mu.Lock()
	defer g.mu.Unlock()
	buf := g.target()
	for i := range buf {
		buf[i] = color
	}
}

func (g *MemGraphics) idx(x, y int32) (int, bool) {
	if x < 0 || y < 0 || uint32(x) >= g.width || uint32(y) >= g.height {
		return 0, false
	}
	return int(uint32(y)*g.width + uint32(x)), true
}

func (g *MemGraphics) PutPixel(x, y int32, color uint32) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	i, ok := g.idx(x, y)
	if !ok {
		return errors.Validation("device: pixel (%d,%d) out of framebuffer bounds", x, y)
	}
	g.target()[i] = color
	return nil
}

func (g *MemGraphics) DrawRect(x, y, w, h int32, color uint32) error {
	if err := g.DrawLine(x, y, x+w, y, color); err != nil {
		return err
	}
	if err := g.DrawLine(x, y+h, x+w, y+h, color); err != nil {
		return err
	}
	if err := g.DrawLine(x, y, x, y+h, color); err != nil {
		return err
	}
	return g.DrawLine(x+w, y, x+w, y+h, color)
}

func (g *MemGraphics) FillRect(x, y, w, h int32, color uint32) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	for yy := y; yy < y+h; yy++ {
		for xx := x; xx < x+w; xx++ {
			if i, ok := g.idx(xx, yy); ok {
				g.target()[i] = color
			}
		}
	}
	return nil
}

// DrawLine implements Bresenham's algorithm, clipping silently at the
// framebuffer edge rather than failing the whole call.
func (g *MemGraphics) DrawLine(x0, y0, x1, y1 int32, color uint32) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	dx := abs32(x1 - x0)
	dy := -abs32(y1 - y0)
	sx, sy := int32(1), int32(1)
	if x0 > x1 {
		sx = -1
	}
	if y0 > y1 {
		sy = -1
	}
	err := dx + dy
	buf := g.target()
	for {
		if i, ok := g.idx(x0, y0); ok {
			buf[i] = color
		}
		if x0 == x1 && y0 == y1 {
			break
		}
		e2 := 2 * err
		if e2 >= dy {
			err += dy
			x0 += sx
		}
		if e2 <= dx {
			err += dx
			y0 += sy
		}
	}
	return nil
}

func (g *MemGraphics) DrawChar(x, y int32, ch byte, color uint32) error {
	// An 8x8 glyph cell; exact font rendering is owned by the (out of
	// scope) VGA/graphics driver, so this just marks the cell's origin.
	return g.PutPixel(x, y, color)
}

func (g *MemGraphics) Print(x, y int32, s string, color uint32) error {
	cursor := x
	for i := range s {
		if err := g.DrawChar(cursor, y, s[i], color); err != nil {
			return err
		}
		cursor += 8
	}
	return nil
}

func (g *MemGraphics) Blit(x, y, w, h int32, pixels []uint32) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if int32(len(pixels)) < w*h {
		return errors.Validation("device: blit source shorter than %dx%d", w, h)
	}
	buf := g.target()
	for row := int32(0); row < h; row++ {
		for col := int32(0); col < w; col++ {
			if i, ok := g.idx(x+col, y+row); ok {
				buf[i] = pixels[row*w+col]
			}
		}
	}
	return nil
}

func (g *MemGraphics) Flip() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.doubleBuf {
		g.front, g.back = g.back, g.front
	}
}

func (g *MemGraphics) EnableDoubleBuffer(enabled bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.doubleBuf = enabled
	if enabled && g.back == nil {
		g.back = make([]uint32, len(g.front))
		copy(g.back, g.front)
	}
}

func (g *MemGraphics) MouseState() MouseState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.mouse
}

// SetMouseState lets a test or input driver inject a mouse position.
func (g *MemGraphics) SetMouseState(s MouseState) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.mouse = s
}

// FrontBuffer returns the currently visible framebuffer, for tests.
func (g *MemGraphics) FrontBuffer() []uint32 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]uint32(nil), g.front...)
}

func abs32(v int32) int32 {
	if v < 0 {
		return -v
	}
	return v
}
