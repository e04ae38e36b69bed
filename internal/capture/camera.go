package capture

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/disintegration/imaging"
)

var imageExtensions = map[string]struct{}{
	".jpg":  {},
	".jpeg": {},
	".png":  {},
}

// DirectoryCamera replays still images from a directory in name order.
type DirectoryCamera struct {
	Dir  string
	Loop bool
}

// Open lists the directory images. An unreadable directory is treated as a
// denied camera.
func (c DirectoryCamera) Open(_ context.Context, _, _ int) (Stream, error) {
	entries, err := os.ReadDir(c.Dir)
	if err != nil {
		if errors.Is(err, os.ErrPermission) {
			return nil, fmt.Errorf("%w: %v", ErrPermissionDenied, err)
		}
		return nil, fmt.Errorf("open camera directory: %w", err)
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if _, ok := imageExtensions[strings.ToLower(filepath.Ext(entry.Name()))]; ok {
			files = append(files, filepath.Join(c.Dir, entry.Name()))
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no images found in %s", c.Dir)
	}
	sort.Strings(files)

	return &directoryStream{files: files, loop: c.Loop}, nil
}

type directoryStream struct {
	mu     sync.Mutex
	files  []string
	next   int
	loop   bool
	closed bool
}

func (s *directoryStream) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed
}

func (s *directoryStream) Read() (image.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrCameraLost
	}
	if s.next >= len(s.files) {
		if !s.loop {
			return nil, fmt.Errorf("%w: end of recording", ErrCameraLost)
		}
		s.next = 0
	}

	path := s.files[s.next]
	s.next++

	img, err := imaging.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %v", ErrCameraLost, err)
		}
		return nil, err
	}
	return img, nil
}

func (s *directoryStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// PatternCamera produces synthetic solid frames.
type PatternCamera struct {
	Color color.Color
}

func (c PatternCamera) Open(_ context.Context, width, height int) (Stream, error) {
	if width <= 0 || height <= 0 {
		width, height = 640, 480
	}
	fill := c.Color
	if fill == nil {
		fill = color.Gray{Y: 96}
	}
	return &patternStream{img: imaging.New(width, height, fill)}, nil
}

type patternStream struct {
	mu     sync.Mutex
	img    image.Image
	closed bool
}

func (s *patternStream) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed
}

func (s *patternStream) Read() (image.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrCameraLost
	}
	return s.img, nil
}

func (s *patternStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
