package arena

import (
	"bytes"
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/anima-render/engine/core"
	"github.com/spaghettifunk/anima-render/engine/renderer/headless"
	"github.com/spaghettifunk/anima-render/engine/renderer/metadata"
)

func newArena(t *testing.T, dev *headless.Device, mode Mode, initial, max, align uint64) *Arena {
	t.Helper()
	a, err := New(dev, Config{
		Name:        "test",
		Usage:       metadata.BufferUsageStorage,
		Mode:        mode,
		InitialSize: initial,
		MaxSize:     max,
		Alignment:   align,
	})
	require.NoError(t, err)
	return a
}

func TestFixedArenaCapacity(t *testing.T) {
	a := newArena(t, headless.NewDevice(), ModeFixed, 256, 0, 16)

	h, err := a.Allocate(200)
	require.NoError(t, err)

	_, err = a.Allocate(64)
	assert.ErrorIs(t, err, core.ErrCapacityExceeded)

	// writes past the allocation never grow it
	err = a.Write(h, 190, make([]byte, 20))
	assert.ErrorIs(t, err, core.ErrCapacityExceeded)

	require.NoError(t, a.Write(h, 0, []byte{1, 2, 3}))
	data, err := a.Read(h)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, data[:3])
	assert.Equal(t, uint64(256), a.Stats().Capacity)
}

func TestAllocateAlignment(t *testing.T) {
	a := newArena(t, headless.NewDevice(), ModeFixed, 1024, 0, 48)
	h1, err := a.Allocate(12)
	require.NoError(t, err)
	h2, err := a.Allocate(100)
	require.NoError(t, err)

	r1, err := a.RegionOf(h1)
	require.NoError(t, err)
	r2, err := a.RegionOf(h2)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), r1.Offset)
	assert.Equal(t, uint64(48), r2.Offset)
	assert.Equal(t, uint64(100), r2.Size)
	assert.Zero(t, r2.Offset%48)
}

func TestReleaseIsDeferredUntilRetirement(t *testing.T) {
	a := newArena(t, headless.NewDevice(), ModeFixed, 128, 0, 16)

	a.FrameBegin(1)
	h, err := a.Allocate(64)
	require.NoError(t, err)
	r, err := a.RegionOf(h)
	require.NoError(t, err)
	require.NoError(t, a.Release(h))

	// frame 1 may still read the span
	a.FrameBegin(2)
	other, err := a.Allocate(64)
	require.NoError(t, err)
	ro, err := a.RegionOf(other)
	require.NoError(t, err)
	assert.NotEqual(t, r.Offset, ro.Offset)
	assert.Equal(t, uint64(64), a.Stats().DeferredBytes)

	_, err = a.Allocate(64)
	assert.ErrorIs(t, err, core.ErrCapacityExceeded)

	a.FrameRetired(1)
	assert.Zero(t, a.Stats().DeferredBytes)
	reused, err := a.Allocate(64)
	require.NoError(t, err)
	rr, err := a.RegionOf(reused)
	require.NoError(t, err)
	assert.Equal(t, r.Offset, rr.Offset)
}

func TestReleaseWithNothingInFlightIsImmediate(t *testing.T) {
	a := newArena(t, headless.NewDevice(), ModeFixed, 64, 0, 16)
	h, err := a.Allocate(64)
	require.NoError(t, err)
	require.NoError(t, a.Release(h))
	_, err = a.Allocate(64)
	assert.NoError(t, err)
}

func TestStaleHandle(t *testing.T) {
	a := newArena(t, headless.NewDevice(), ModeArena, 64, 128, 16)
	h, err := a.Allocate(16)
	require.NoError(t, err)
	require.NoError(t, a.Release(h))

	assert.ErrorIs(t, a.Write(h, 0, []byte{1}), core.ErrStaleHandle)
	_, err = a.RegionOf(h)
	assert.ErrorIs(t, err, core.ErrStaleHandle)
	assert.ErrorIs(t, a.Release(h), core.ErrStaleHandle)
}

func TestGrowthPreservesHandles(t *testing.T) {
	dev := headless.NewDevice()
	a := newArena(t, dev, ModeArena, 256, 4096, 16)

	remaps := 0
	a.OnRemap(func(*Arena) { remaps++ })

	a.FrameBegin(1)
	contents := map[metadata.AllocationHandle][]byte{}
	var handles []metadata.AllocationHandle
	for i := 0; i < 8; i++ {
		h, err := a.Allocate(32)
		require.NoError(t, err)
		data := bytes.Repeat([]byte{byte(i + 1)}, 32)
		require.NoError(t, a.Write(h, 0, data))
		contents[h] = data
		handles = append(handles, h)
	}
	// drop one in the middle so compaction has to move the tail
	require.NoError(t, a.Release(handles[2]))
	delete(contents, handles[2])

	before := map[metadata.AllocationHandle]Region{}
	for h := range contents {
		r, err := a.RegionOf(h)
		require.NoError(t, err)
		before[h] = r
	}

	extra, err := a.Allocate(100)
	require.NoError(t, err)
	r, err := a.RegionOf(extra)
	require.NoError(t, err)
	assert.True(t, r.Pending)
	payload := bytes.Repeat([]byte{0xAB}, 100)
	require.NoError(t, a.Write(extra, 0, payload))
	contents[extra] = payload

	got, err := a.Read(extra)
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	oldBuffer := a.Buffer()
	a.FrameBegin(2)
	assert.Equal(t, 1, remaps)

	stats := a.Stats()
	assert.Equal(t, uint64(512), stats.Capacity)
	assert.Equal(t, uint32(1), stats.Generation)
	assert.Zero(t, stats.PendingBytes)

	moved := false
	for h, data := range contents {
		region, err := a.RegionOf(h)
		require.NoError(t, err)
		assert.False(t, region.Pending)
		assert.Equal(t, uint32(1), region.Generation)
		if b, ok := before[h]; ok && b.Offset != region.Offset {
			moved = true
		}
		got, err := a.Read(h)
		require.NoError(t, err)
		assert.Equal(t, data, got, "content of %s", h)
	}
	assert.True(t, moved)

	// frame 1 still references the old buffer
	assert.False(t, oldBuffer.(*headless.Buffer).Destroyed())
	assert.Equal(t, 1, a.Stats().RetiredBuffers)
	a.FrameRetired(1)
	assert.True(t, oldBuffer.(*headless.Buffer).Destroyed())
	assert.Equal(t, 1, dev.LiveBuffers())
}

func TestGrowthCeiling(t *testing.T) {
	a := newArena(t, headless.NewDevice(), ModeArena, 64, 128, 16)
	_, err := a.Allocate(64)
	require.NoError(t, err)
	_, err = a.Allocate(64)
	require.NoError(t, err)
	_, err = a.Allocate(16)
	assert.ErrorIs(t, err, core.ErrCapacityExceeded)
	_, err = a.Allocate(1024)
	assert.ErrorIs(t, err, core.ErrCapacityExceeded)
}

func TestCompactBeforeFirstFrameDestroysOldBuffer(t *testing.T) {
	dev := headless.NewDevice()
	a := newArena(t, dev, ModeArena, 32, 256, 16)
	h, err := a.Allocate(64)
	require.NoError(t, err)
	require.NoError(t, a.Write(h, 0, bytes.Repeat([]byte{7}, 64)))
	require.NoError(t, a.Compact())
	assert.Equal(t, 1, dev.LiveBuffers())

	got, err := a.Read(h)
	require.NoError(t, err)
	assert.Equal(t, bytes.Repeat([]byte{7}, 64), got)
}

func TestCompactKeepsBufferOfSubmittedFrame(t *testing.T) {
	dev := headless.NewDevice()
	a := newArena(t, dev, ModeArena, 64, 1024, 16)

	a.FrameBegin(1)
	h, err := a.Allocate(64)
	require.NoError(t, err)
	require.NoError(t, a.Write(h, 0, bytes.Repeat([]byte{3}, 64)))
	old := a.Buffer()

	extra, err := a.Allocate(64)
	require.NoError(t, err)
	r, err := a.RegionOf(extra)
	require.NoError(t, err)
	require.True(t, r.Pending)

	// frame 1 is submitted and may still read the old buffer
	require.NoError(t, a.Compact())
	assert.NotSame(t, old, a.Buffer())
	assert.False(t, old.(*headless.Buffer).Destroyed())
	assert.Equal(t, 1, a.Stats().RetiredBuffers)

	a.FrameRetired(0)
	assert.False(t, old.(*headless.Buffer).Destroyed())
	a.FrameRetired(1)
	assert.True(t, old.(*headless.Buffer).Destroyed())
	assert.Equal(t, 1, dev.LiveBuffers())

	got, err := a.Read(h)
	require.NoError(t, err)
	assert.Equal(t, bytes.Repeat([]byte{3}, 64), got)
}

// TestConcurrentProducersAcrossCompaction allocates and writes from several
// goroutines while another one drives frame begin and retirement.
func TestConcurrentProducersAcrossCompaction(t *testing.T) {
	dev := headless.NewDevice()
	a := newArena(t, dev, ModeArena, 256, 1<<20, 16)

	const (
		producers   = 4
		perProducer = 64
	)
	type owned struct {
		h    metadata.AllocationHandle
		data []byte
	}

	stop := make(chan struct{})
	var lastFrame uint64
	var render sync.WaitGroup
	render.Add(1)
	go func() {
		defer render.Done()
		frame := uint64(0)
		for {
			select {
			case <-stop:
				lastFrame = frame
				return
			default:
			}
			frame++
			a.FrameBegin(frame)
			if frame > 2 {
				a.FrameRetired(frame - 2)
			}
		}
	}()

	results := make([][]owned, producers)
	errs := make(chan error, producers)
	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				data := bytes.Repeat([]byte{byte(p*perProducer + i)}, 24+i%40)
				h, err := a.Allocate(uint64(len(data)))
				if err != nil {
					errs <- err
					return
				}
				if err := a.Write(h, 0, data); err != nil {
					errs <- err
					return
				}
				got, err := a.Read(h)
				if err != nil {
					errs <- err
					return
				}
				if !bytes.Equal(data, got) {
					errs <- fmt.Errorf("producer %d: %s read back wrong bytes", p, h)
					return
				}
				if i%3 == 2 {
					if err := a.Release(h); err != nil {
						errs <- err
						return
					}
					continue
				}
				results[p] = append(results[p], owned{h: h, data: data})
			}
		}(p)
	}
	wg.Wait()
	close(stop)
	render.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	// one more compaction point places anything still pending
	a.FrameBegin(lastFrame + 1)
	assert.Positive(t, a.Stats().Generation)

	var regions []Region
	for _, list := range results {
		for _, o := range list {
			r, err := a.RegionOf(o.h)
			require.NoError(t, err)
			assert.False(t, r.Pending)
			got, err := a.Read(o.h)
			require.NoError(t, err)
			assert.Equal(t, o.data, got, "content of %s", o.h)
			for _, other := range regions {
				overlap := r.Offset < other.Offset+other.Size && other.Offset < r.Offset+r.Size
				require.False(t, overlap, "live allocations overlap")
			}
			regions = append(regions, r)
		}
	}
}

func TestRequestHeadroom(t *testing.T) {
	a := newArena(t, headless.NewDevice(), ModeArena, 64, 1024, 16)
	_, err := a.Allocate(48)
	require.NoError(t, err)
	a.RequestHeadroom(200)
	a.FrameBegin(1)
	s := a.Stats()
	assert.GreaterOrEqual(t, s.Capacity-s.HighWater, uint64(200))
}

// protectedSpan is a byte range some frame may still access.
type protectedSpan struct {
	buffer string
	offset uint64
	size   uint64
	until  uint64
}

// TestArenaSafetyProperty runs random allocate/write/release sequences with
// three frames in flight and checks that no byte is handed out while a frame
// that last used it is still in flight.
func TestArenaSafetyProperty(t *testing.T) {
	for _, mode := range []Mode{ModeFixed, ModeArena} {
		t.Run(mode.String(), func(t *testing.T) {
			rng := rand.New(rand.NewSource(42))
			a := newArena(t, headless.NewDevice(), mode, 2048, 1<<20, 16)

			const framesInFlight = 3
			type liveAlloc struct {
				data []byte
			}
			live := map[metadata.AllocationHandle]*liveAlloc{}
			var protected []protectedSpan
			var inFlight []uint64
			completed := uint64(0)

			checkPlacement := func(h metadata.AllocationHandle) {
				r, err := a.RegionOf(h)
				require.NoError(t, err)
				if r.Pending {
					return
				}
				for _, p := range protected {
					if p.buffer != r.BufferID || p.until <= completed {
						continue
					}
					overlap := r.Offset < p.offset+p.size && p.offset < r.Offset+r.Size
					require.False(t, overlap, "span [%d,%d) reused before frame %d retired (completed %d)",
						r.Offset, r.Offset+r.Size, p.until, completed)
				}
				for other := range live {
					if other == h {
						continue
					}
					ro, err := a.RegionOf(other)
					require.NoError(t, err)
					if ro.Pending {
						continue
					}
					overlap := r.Offset < ro.Offset+ro.Size && ro.Offset < r.Offset+r.Size
					require.False(t, overlap, "live allocations overlap")
				}
			}

			for frame := uint64(1); frame <= 300; frame++ {
				a.FrameBegin(frame)
				inFlight = append(inFlight, frame)

				for op := 0; op < 6; op++ {
					switch rng.Intn(3) {
					case 0:
						size := uint64(rng.Intn(200) + 1)
						h, err := a.Allocate(size)
						if err != nil {
							require.ErrorIs(t, err, core.ErrCapacityExceeded)
							continue
						}
						live[h] = &liveAlloc{data: make([]byte, size)}
						checkPlacement(h)
					case 1:
						for h, l := range live {
							rng.Read(l.data)
							require.NoError(t, a.Write(h, 0, l.data))
							break
						}
					case 2:
						for h := range live {
							r, err := a.RegionOf(h)
							require.NoError(t, err)
							require.NoError(t, a.Release(h))
							delete(live, h)
							if !r.Pending {
								protected = append(protected, protectedSpan{buffer: r.BufferID, offset: r.Offset, size: r.Size, until: frame})
							}
							break
						}
					}
				}

				// every live allocation keeps its bytes, across compactions too
				for h, l := range live {
					got, err := a.Read(h)
					require.NoError(t, err)
					require.Equal(t, l.data, got)
				}

				// the GPU retires the oldest frame once the ring is full
				if len(inFlight) == framesInFlight {
					completed = inFlight[0]
					inFlight = inFlight[1:]
					a.FrameRetired(completed)
				}
			}
		})
	}
}
