package fileio

import (
	"fmt"
	"os"
)

// SlotFactory creates SlotBackend instances for a storage directory
type SlotFactory struct {
	Root        string
	MaxSize     int64
	Compression bool
}

func (f *SlotFactory) NewBackend() Backend {
	return &SlotBackend{root: f.Root, maxSize: f.MaxSize, compression: f.Compression}
}

// BlockFactory creates BlockBackend instances for a raw device
type BlockFactory struct {
	Device string
}

func (f *BlockFactory) NewBackend() Backend {
	return &BlockBackend{device: f.Device}
}

// Detect picks the backend matching the storage target: a directory holds
// image slots, a device node or image file is written raw.
func Detect(target string, maxSize int64, compression bool) (BackendFactory, error) {
	info, err := os.Stat(target)
	if err != nil {
		return nil, fmt.Errorf("unable to stat storage target %q: %w", target, err)
	}
	switch mode := info.Mode(); {
	case mode.IsDir():
		return &SlotFactory{Root: target, MaxSize: maxSize, Compression: compression}, nil
	case mode&os.ModeDevice != 0, mode.IsRegular():
		return &BlockFactory{Device: target}, nil
	}
	return nil, fmt.Errorf("storage target %q is neither a directory nor a device", target)
}
