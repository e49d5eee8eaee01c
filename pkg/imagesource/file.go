package imagesource

import (
	"fmt"
	"image"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bmharper/cimg/v2"
	"github.com/cyclopcam/logs"
	"github.com/disintegration/imaging"
)

// OpenFile decodes an image file into memory.
// JPEG files are decoded with libjpeg-turbo. Everything else goes through the standard decoders.
func OpenFile(log logs.Log, path string) (*Image, error) {
	ext := strings.ToLower(filepath.Ext(path))
	var img image.Image
	if ext == ".jpg" || ext == ".jpeg" {
		c, err := cimg.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("Failed to decode '%v': %w", path, err)
		}
		img = rgbToNRGBA(c.ToRGB())
	} else {
		i, err := imaging.Open(path)
		if err != nil {
			return nil, fmt.Errorf("Failed to decode '%v': %w", path, err)
		}
		img = i
	}
	if log != nil {
		log.Infof("Opened image '%v' (%v x %v)", path, img.Bounds().Dx(), img.Bounds().Dy())
	}
	return NewImage(path, img), nil
}

func rgbToNRGBA(src *cimg.Image) *image.NRGBA {
	dst := image.NewNRGBA(image.Rect(0, 0, src.Width, src.Height))
	for y := 0; y < src.Height; y++ {
		srcLine := src.Pixels[y*src.Stride : y*src.Stride+src.Width*3]
		dstLine := dst.Pix[y*dst.Stride : y*dst.Stride+src.Width*4]
		for x := 0; x < src.Width; x++ {
			dstLine[x*4] = srcLine[x*3]
			dstLine[x*4+1] = srcLine[x*3+1]
			dstLine[x*4+2] = srcLine[x*3+2]
			dstLine[x*4+3] = 255
		}
	}
	return dst
}

// Cache keeps decoded images in memory, so that repeated detections on the same
// image do not decode it again. Cache is safe for concurrent use.
type Cache struct {
	log    logs.Log
	mu     sync.RWMutex
	images map[string]*Image
}

func NewCache(log logs.Log) *Cache {
	return &Cache{
		log:    log,
		images: map[string]*Image{},
	}
}

// Open returns the cached image, or decodes it from disk
func (c *Cache) Open(path string) (*Image, error) {
	c.mu.RLock()
	img, ok := c.images[path]
	c.mu.RUnlock()
	if ok {
		return img, nil
	}

	img, err := OpenFile(c.log, path)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.images[path] = img
	c.mu.Unlock()
	return img, nil
}

// Evict removes a single image from the cache
func (c *Cache) Evict(path string) {
	c.mu.Lock()
	delete(c.images, path)
	c.mu.Unlock()
}
