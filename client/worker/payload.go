package worker

import (
	"fmt"
	"go_ota/fileio"
	"math"
)

// Payload is the image exactly as it goes over the wire
type Payload struct {
	Data       []byte
	MD5        string // Hex MD5 of Data
	Compressed bool
	ImageSize  int // Size before compression
}

// Prepare frames image with LZ4 when compress is set and the frame is smaller
func Prepare(image []byte, compress bool) (*Payload, error) {
	if uint64(len(image)) > math.MaxUint32 {
		return nil, fmt.Errorf("image of %d bytes does not fit the 32 bit size field", len(image))
	}
	p := &Payload{Data: image, ImageSize: len(image)}
	if compress {
		framed, err := fileio.CompressFrame(image)
		if err != nil {
			return nil, err
		}
		// Attempt compression, keep the original if it did not help.
		if len(framed) < len(image) {
			p.Data = framed
			p.Compressed = true
		}
	}
	p.MD5 = fileio.ChecksumMD5(p.Data)
	return p, nil
}

// Size is the value of the 4 byte size field
func (p *Payload) Size() uint32 {
	return uint32(len(p.Data))
}

// Chunks slices the payload into writes of at most size bytes
func (p *Payload) Chunks(size int) [][]byte {
	chunks := make([][]byte, 0, (len(p.Data)+size-1)/size)
	for off := 0; off < len(p.Data); off += size {
		chunks = append(chunks, p.Data[off:min(off+size, len(p.Data))])
	}
	return chunks
}
