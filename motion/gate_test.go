package motion

import (
	"image"
	"image/color"
	"image/draw"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func uniformFrame(c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, 160, 120))
	draw.Draw(img, img.Rect, image.NewUniform(c), image.Point{}, draw.Src)
	return img
}

func newTestGate(config Config) *Gate {
	return NewGate(config, zerolog.Nop())
}

func TestFirstFrameAlwaysRuns(t *testing.T) {
	g := newTestGate(DefaultConfig())
	defer g.Close()

	run, err := g.ShouldRunInference(uniformFrame(color.RGBA{R: 128, G: 128, B: 128, A: 255}))
	require.NoError(t, err)
	assert.True(t, run)
}

func TestIdenticalFramesGateInference(t *testing.T) {
	config := DefaultConfig()
	config.CooldownFrames = 0
	g := newTestGate(config)
	defer g.Close()

	frame := uniformFrame(color.RGBA{R: 128, G: 128, B: 128, A: 255})
	_, err := g.ShouldRunInference(frame)
	require.NoError(t, err)

	run, err := g.ShouldRunInference(frame)
	require.NoError(t, err)
	assert.False(t, run)
	assert.Zero(t, g.Score())
}

func TestLargeChangeTriggersInference(t *testing.T) {
	config := DefaultConfig()
	config.CooldownFrames = 0
	g := newTestGate(config)
	defer g.Close()

	_, err := g.ShouldRunInference(uniformFrame(color.RGBA{A: 255}))
	require.NoError(t, err)

	run, err := g.ShouldRunInference(uniformFrame(color.RGBA{R: 255, G: 255, B: 255, A: 255}))
	require.NoError(t, err)
	assert.True(t, run)
	assert.Greater(t, g.Score(), config.Threshold)
}

func TestCooldownKeepsGateOpen(t *testing.T) {
	config := DefaultConfig()
	config.CooldownFrames = 3
	g := newTestGate(config)
	defer g.Close()

	dark := uniformFrame(color.RGBA{A: 255})
	light := uniformFrame(color.RGBA{R: 255, G: 255, B: 255, A: 255})

	_, err := g.ShouldRunInference(dark)
	require.NoError(t, err)
	run, err := g.ShouldRunInference(light)
	require.NoError(t, err)
	require.True(t, run)

	// Motion stopped, but the cooldown window keeps inference on for three
	// more frames, then closes.
	for i := 0; i < 3; i++ {
		run, err = g.ShouldRunInference(light)
		require.NoError(t, err)
		assert.True(t, run, "cooldown frame %d", i)
	}
	run, err = g.ShouldRunInference(light)
	require.NoError(t, err)
	assert.False(t, run)
}

func TestScoreScalesWithChange(t *testing.T) {
	config := DefaultConfig()
	config.CooldownFrames = 0
	g := newTestGate(config)
	defer g.Close()

	base := uniformFrame(color.RGBA{R: 100, G: 100, B: 100, A: 255})
	_, err := g.ShouldRunInference(base)
	require.NoError(t, err)

	_, err = g.ShouldRunInference(uniformFrame(color.RGBA{R: 110, G: 110, B: 110, A: 255}))
	require.NoError(t, err)
	small := g.Score()

	g.Reset()
	_, err = g.ShouldRunInference(base)
	require.NoError(t, err)
	_, err = g.ShouldRunInference(uniformFrame(color.RGBA{R: 200, G: 200, B: 200, A: 255}))
	require.NoError(t, err)
	large := g.Score()

	assert.Greater(t, large, small)
	assert.InDelta(t, 0.0, small, 0.1)
	assert.LessOrEqual(t, large, 1.0)
}

func TestSetThreshold(t *testing.T) {
	g := newTestGate(DefaultConfig())
	defer g.Close()

	assert.Error(t, g.SetThreshold(-0.1))
	assert.Error(t, g.SetThreshold(1.5))
	assert.Equal(t, DefaultConfig().Threshold, g.Threshold())

	require.NoError(t, g.SetThreshold(0.5))
	assert.Equal(t, 0.5, g.Threshold())
}

func TestResetForcesNextFrameToRun(t *testing.T) {
	config := DefaultConfig()
	config.CooldownFrames = 0
	g := newTestGate(config)
	defer g.Close()

	frame := uniformFrame(color.RGBA{R: 128, G: 128, B: 128, A: 255})
	_, err := g.ShouldRunInference(frame)
	require.NoError(t, err)
	run, err := g.ShouldRunInference(frame)
	require.NoError(t, err)
	require.False(t, run)

	g.Reset()
	run, err = g.ShouldRunInference(frame)
	require.NoError(t, err)
	assert.True(t, run)
}
