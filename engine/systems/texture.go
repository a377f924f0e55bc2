package systems

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/spaghettifunk/anima-render/engine/core"
	"github.com/spaghettifunk/anima-render/engine/renderer/metadata"
	"github.com/spaghettifunk/anima-render/engine/renderer/transition"
)

type TextureManagerConfig struct {
	/** @brief The maximum number of textures that can be loaded at once. */
	MaxTextureCount uint32
	/** @brief Edge length of the default checkerboard texture. */
	CheckerboardSize uint32
}

type retiringImage struct {
	image    metadata.Image
	sampler  metadata.Sampler
	retireAt uint64
}

// TextureManager owns the bindless texture table. A texture's slot in the
// descriptor array is its handle index. Materials hold references to the
// slots they sample, and a released texture keeps its slot until the last
// of them is gone.
type TextureManager struct {
	config      TextureManagerConfig
	device      metadata.ImageDevice
	transitions *transition.Queue

	mu             sync.Mutex
	textures       *core.HandleTable[*metadata.TextureDescriptor]
	byName         map[string]metadata.TextureHandle
	defaultTexture metadata.TextureHandle
	dirty          bool
	infos          []metadata.DescriptorImageInfo
	rebuilds       int
	retiring       []retiringImage
	references     map[metadata.TextureHandle]uint32
	releasing      map[metadata.TextureHandle]bool
	currentFrame   uint64
	completed      uint64
}

func NewTextureManager(config TextureManagerConfig, device metadata.ImageDevice, transitions *transition.Queue) (*TextureManager, error) {
	if config.MaxTextureCount == 0 {
		err := fmt.Errorf("func NewTextureManager - config.MaxTextureCount must be > 0")
		core.LogError(err.Error())
		return nil, err
	}
	if config.CheckerboardSize == 0 {
		config.CheckerboardSize = 256
	}
	tm := &TextureManager{
		config:      config,
		device:      device,
		transitions: transitions,
		textures:    core.NewHandleTable[*metadata.TextureDescriptor](int(config.MaxTextureCount)),
		byName:      make(map[string]metadata.TextureHandle),
		references:  make(map[metadata.TextureHandle]uint32),
		releasing:   make(map[metadata.TextureHandle]bool),
	}

	// Create default texture for use in the system.
	h, err := tm.AddTexture(metadata.NewCheckerboard(config.CheckerboardSize), metadata.DEFAULT_TEXTURE_NAME)
	if err != nil {
		return nil, fmt.Errorf("failed to create default texture: %w", err)
	}
	tm.defaultTexture = h
	return tm, nil
}

func (tm *TextureManager) DefaultTexture() metadata.TextureHandle {
	return tm.defaultTexture
}

// AddTexture creates the image and queues its upload transitions. A texture
// with the same name is returned as is. An empty name is replaced by a
// fresh uuid.
func (tm *TextureManager) AddTexture(img metadata.TextureImage, name string) (metadata.TextureHandle, error) {
	if name == "" {
		name = uuid.NewString()
	}

	tm.mu.Lock()
	defer tm.mu.Unlock()

	if h, ok := tm.byName[name]; ok {
		return h, nil
	}
	if uint32(tm.textures.Len()) >= tm.config.MaxTextureCount {
		return 0, fmt.Errorf("texture %q: %d textures loaded: %w", name, tm.textures.Len(), core.ErrCapacityExceeded)
	}

	image, sampler, err := tm.createLocked(name, img)
	if err != nil {
		return 0, err
	}
	desc := &metadata.TextureDescriptor{
		Name:    name,
		Image:   image,
		Sampler: sampler,
		Layout:  metadata.ImageLayoutShaderReadOnlyOptimal,
	}
	h := metadata.TextureHandle(tm.textures.Acquire(desc))
	desc.Handle = h
	tm.byName[name] = h
	tm.dirty = true
	core.LogDebug("texture %q loaded (%dx%d)", name, img.Width, img.Height)
	return h, nil
}

// createLocked creates the image and sampler and queues the upload
// transitions. Queueing happens under tm.mu, which serializes producers.
func (tm *TextureManager) createLocked(name string, img metadata.TextureImage) (metadata.Image, metadata.Sampler, error) {
	if img.Width == 0 || img.Height == 0 {
		return nil, nil, fmt.Errorf("texture %q: empty image", name)
	}
	image, err := tm.device.CreateImage(name, img.Width, img.Height, img.Pixels)
	if err != nil {
		return nil, nil, fmt.Errorf("texture %q: %w", name, err)
	}
	sampler, err := tm.device.CreateSampler(img.Sampler)
	if err != nil {
		image.Destroy()
		return nil, nil, fmt.Errorf("texture %q sampler: %w", name, err)
	}
	if err := tm.transitions.EnqueueBatch(metadata.UploadTransitions(image)); err != nil {
		sampler.Destroy()
		image.Destroy()
		return nil, nil, fmt.Errorf("texture %q: %w", name, err)
	}
	return image, sampler, nil
}

// ReplaceTexture swaps the image behind name. The old image is destroyed
// once the frames that may sample it have retired. An unknown name is added.
func (tm *TextureManager) ReplaceTexture(name string, img metadata.TextureImage) (metadata.TextureHandle, error) {
	tm.mu.Lock()
	h, ok := tm.byName[name]
	if !ok {
		tm.mu.Unlock()
		return tm.AddTexture(img, name)
	}
	defer tm.mu.Unlock()

	desc, err := tm.textures.Get(core.Handle(h))
	if err != nil {
		return 0, fmt.Errorf("texture %q: %w", name, err)
	}
	image, sampler, err := tm.createLocked(name, img)
	if err != nil {
		return 0, err
	}
	tm.retiring = append(tm.retiring, retiringImage{image: desc.Image, sampler: desc.Sampler, retireAt: tm.currentFrame})
	desc.Image = image
	desc.Sampler = sampler
	desc.Generation++
	tm.dirty = true
	core.LogInfo("texture %q replaced (generation %d)", name, desc.Generation)
	return h, nil
}

// ReleaseTexture drops name from the table. Once no material references it,
// its slot samples the default texture from the next bind and the image is
// destroyed after retirement.
func (tm *TextureManager) ReleaseTexture(name string) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	h, ok := tm.byName[name]
	if !ok {
		return fmt.Errorf("texture %q is not loaded", name)
	}
	if h == tm.defaultTexture {
		return fmt.Errorf("the default texture cannot be released")
	}
	delete(tm.byName, name)
	if n := tm.references[h]; n > 0 {
		tm.releasing[h] = true
		core.LogDebug("texture %q still sampled by %d materials, release deferred", name, n)
		return nil
	}
	return tm.destroyLocked(h)
}

func (tm *TextureManager) destroyLocked(h metadata.TextureHandle) error {
	desc, err := tm.textures.Release(core.Handle(h))
	if err != nil {
		return fmt.Errorf("texture %s: %w", h, err)
	}
	delete(tm.releasing, h)
	delete(tm.references, h)
	tm.retiring = append(tm.retiring, retiringImage{image: desc.Image, sampler: desc.Sampler, retireAt: tm.currentFrame})
	tm.dirty = true
	core.LogDebug("texture %q destroyed", desc.Name)
	return nil
}

// acquireIndex returns the slot of h and holds it for a material. Stale or
// released handles resolve to the default texture, which is not counted;
// held reports whether releaseIndex must be called.
func (tm *TextureManager) acquireIndex(h metadata.TextureHandle) (slot uint32, held bool) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	if h == tm.defaultTexture || !tm.textures.Contains(core.Handle(h)) || tm.releasing[h] {
		return core.Handle(tm.defaultTexture).Index(), false
	}
	tm.references[h]++
	return core.Handle(h).Index(), true
}

// releaseIndex drops a reference taken by acquireIndex.
func (tm *TextureManager) releaseIndex(h metadata.TextureHandle) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	n := tm.references[h]
	if n == 0 {
		return
	}
	n--
	if n > 0 {
		tm.references[h] = n
		return
	}
	delete(tm.references, h)
	if tm.releasing[h] {
		if err := tm.destroyLocked(h); err != nil {
			core.LogError("%s", err)
		}
	}
}

func (tm *TextureManager) Lookup(name string) (metadata.TextureHandle, bool) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	h, ok := tm.byName[name]
	return h, ok
}

func (tm *TextureManager) Descriptor(h metadata.TextureHandle) (metadata.TextureDescriptor, error) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	desc, err := tm.textures.Get(core.Handle(h))
	if err != nil {
		return metadata.TextureDescriptor{}, fmt.Errorf("texture: %w", err)
	}
	return *desc, nil
}

func (tm *TextureManager) Count() int {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	return tm.textures.Len()
}

// IndexOf is the descriptor array slot sampled by shaders for h. Stale and
// released handles fall back to the default texture.
func (tm *TextureManager) IndexOf(h metadata.TextureHandle) uint32 {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	if !tm.textures.Contains(core.Handle(h)) || tm.releasing[h] {
		return core.Handle(tm.defaultTexture).Index()
	}
	return core.Handle(h).Index()
}

// GetDescriptorImageInfoList returns the descriptor array contents, rebuilt
// only when a texture was added or replaced since the last call. Unused
// slots point at the default texture.
func (tm *TextureManager) GetDescriptorImageInfoList() []metadata.DescriptorImageInfo {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	if !tm.dirty {
		return tm.infos
	}

	def, _ := tm.textures.Get(core.Handle(tm.defaultTexture))
	fallback := metadata.DescriptorImageInfo{Image: def.Image, Sampler: def.Sampler, Layout: def.Layout}

	size := 0
	tm.textures.Each(func(h core.Handle, _ **metadata.TextureDescriptor) {
		if n := int(h.Index()) + 1; n > size {
			size = n
		}
	})
	infos := make([]metadata.DescriptorImageInfo, size)
	for i := range infos {
		infos[i] = fallback
	}
	tm.textures.Each(func(h core.Handle, d **metadata.TextureDescriptor) {
		infos[h.Index()] = metadata.DescriptorImageInfo{Image: (*d).Image, Sampler: (*d).Sampler, Layout: (*d).Layout}
	})
	tm.infos = infos
	tm.dirty = false
	tm.rebuilds++
	return tm.infos
}

func (tm *TextureManager) FrameBegin(frame uint64) {
	tm.mu.Lock()
	tm.currentFrame = frame
	tm.mu.Unlock()
}

// FrameRetired destroys replaced images no frame can sample any more.
func (tm *TextureManager) FrameRetired(completed uint64) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	tm.completed = completed
	kept := tm.retiring[:0]
	for _, r := range tm.retiring {
		if r.retireAt <= completed {
			r.sampler.Destroy()
			r.image.Destroy()
			continue
		}
		kept = append(kept, r)
	}
	tm.retiring = kept
}

/**
 * @brief Destroys every texture. Call only after all frames retired.
 */
func (tm *TextureManager) Shutdown() error {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	tm.textures.Each(func(_ core.Handle, d **metadata.TextureDescriptor) {
		(*d).Sampler.Destroy()
		(*d).Image.Destroy()
	})
	for _, r := range tm.retiring {
		r.sampler.Destroy()
		r.image.Destroy()
	}
	tm.retiring = nil
	tm.textures = core.NewHandleTable[*metadata.TextureDescriptor](int(tm.config.MaxTextureCount))
	tm.byName = make(map[string]metadata.TextureHandle)
	tm.references = make(map[metadata.TextureHandle]uint32)
	tm.releasing = make(map[metadata.TextureHandle]bool)
	tm.infos = nil
	tm.dirty = false
	return nil
}
