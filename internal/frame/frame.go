// Package frame defines the frame record: the image buffer and
// metadata tuple that flows from the capture pipeline into the ring
// and out to every reader.
package frame

// Image is a packed RGB pixel buffer: Width*Height*3 bytes, row-major,
// no padding. The buffer is never mutated after it is handed to a
// Record; readers may keep a reference to it safely.
type Image struct {
	Width  int
	Height int
	Pix    []byte
}

// NewImage allocates a zeroed RGB image of the given geometry.
func NewImage(width, height int) *Image {
	return &Image{
		Width:  width,
		Height: height,
		Pix:    make([]byte, width*height*3),
	}
}

// Clone returns an Image with its own backing buffer, safe to mutate
// independently of the original.
func (img *Image) Clone() *Image {
	if img == nil {
		return nil
	}
	out := &Image{
		Width:  img.Width,
		Height: img.Height,
		Pix:    make([]byte, len(img.Pix)),
	}
	copy(out.Pix, img.Pix)
	return out
}

// Record is the unit of ownership handed between the capture pipeline,
// the ring, and readers (control server, MJPEG server, exporter).
type Record struct {
	FrameID   uint64
	Timestamp float64 // fractional seconds since the epoch
	DarkScore float64 // mean of all channel values, in [0, 255]
	NightMode bool    // true if captured in still (night) mode
	Image     *Image
}
