package capture

import (
	"context"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type fakeStream struct {
	mu       sync.Mutex
	ready    bool
	reads    int
	loseAt   int
	closed   bool
	closeCnt int
}

func (s *fakeStream) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

func (s *fakeStream) Read() (image.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads++
	if s.loseAt > 0 && s.reads >= s.loseAt {
		return nil, ErrCameraLost
	}
	return imaging.New(32, 24, color.White), nil
}

func (s *fakeStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.closeCnt++
	return nil
}

func (s *fakeStream) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type fakeCamera struct {
	mu     sync.Mutex
	stream *fakeStream
	err    error
	opens  int
}

func (c *fakeCamera) Open(context.Context, int, int) (Stream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.opens++
	if c.err != nil {
		return nil, c.err
	}
	return c.stream, nil
}

type frameSink struct {
	mu     sync.Mutex
	frames []Frame
}

func (s *frameSink) add(frame Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, frame)
}

func (s *frameSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

func testSettings() Settings {
	return Settings{Interval: 10 * time.Millisecond, Width: 16, Height: 12, JPEGQuality: 70}
}

func TestLoopEmitsFramesAndReleasesCameraOnStop(t *testing.T) {
	stream := &fakeStream{ready: true}
	sink := &frameSink{}
	loop := NewLoop(&fakeCamera{stream: stream}, testSettings(), Handlers{OnFrame: sink.add}, zerolog.Nop())

	require.NoError(t, loop.Start(context.Background()))
	require.ErrorIs(t, loop.Start(context.Background()), ErrAlreadyActive)
	require.Eventually(t, func() bool { return sink.count() >= 3 }, time.Second, 5*time.Millisecond)

	loop.Stop()
	require.True(t, stream.isClosed())
	require.Equal(t, 1, stream.closeCnt)

	sink.mu.Lock()
	first := sink.frames[0]
	sink.mu.Unlock()
	require.True(t, strings.HasPrefix(first.Data, DataURLPrefix))
	require.False(t, first.CapturedAt.IsZero())

	loop.Stop()
}

func TestLoopSkipsWhenStreamNotReady(t *testing.T) {
	stream := &fakeStream{ready: false}
	sink := &frameSink{}
	loop := NewLoop(&fakeCamera{stream: stream}, testSettings(), Handlers{OnFrame: sink.add}, zerolog.Nop())

	require.NoError(t, loop.Start(context.Background()))
	require.Eventually(t, func() bool {
		_, skipped := loop.Counts()
		return skipped >= 3
	}, time.Second, 5*time.Millisecond)
	loop.Stop()

	require.Zero(t, sink.count())
	require.Zero(t, stream.reads)
}

func TestLoopReportsPermissionDeniedOnce(t *testing.T) {
	camera := &fakeCamera{err: ErrPermissionDenied}
	var denials int
	loop := NewLoop(camera, testSettings(), Handlers{OnPermissionDenied: func(error) { denials++ }}, zerolog.Nop())

	require.ErrorIs(t, loop.Start(context.Background()), ErrPermissionDenied)
	require.ErrorIs(t, loop.Start(context.Background()), ErrPermissionDenied)

	require.Equal(t, 1, denials)
	require.Equal(t, 2, camera.opens)
	select {
	case <-loop.Done():
	default:
		t.Fatal("loop without camera should report done")
	}
}

func TestLoopStopsAndReleasesOnCameraLost(t *testing.T) {
	stream := &fakeStream{ready: true, loseAt: 3}
	sink := &frameSink{}
	lost := make(chan error, 1)
	loop := NewLoop(&fakeCamera{stream: stream}, testSettings(), Handlers{
		OnFrame:      sink.add,
		OnCameraLost: func(err error) { lost <- err },
	}, zerolog.Nop())

	require.NoError(t, loop.Start(context.Background()))

	select {
	case err := <-lost:
		require.ErrorIs(t, err, ErrCameraLost)
	case <-time.After(time.Second):
		t.Fatal("camera lost handler not called")
	}
	<-loop.Done()

	require.True(t, stream.isClosed())
	require.Equal(t, 2, sink.count())
}

func TestLoopReleasesCameraWhenContextCancelled(t *testing.T) {
	stream := &fakeStream{ready: true}
	loop := NewLoop(&fakeCamera{stream: stream}, testSettings(), Handlers{}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, loop.Start(ctx))
	cancel()

	select {
	case <-loop.Done():
	case <-time.After(time.Second):
		t.Fatal("loop did not exit")
	}
	require.True(t, stream.isClosed())
}

func TestEncodeJPEGResizes(t *testing.T) {
	data, err := EncodeJPEG(imaging.New(64, 48, color.Black), 32, 24, 80)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(data, DataURLPrefix))

	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(data, DataURLPrefix))
	require.NoError(t, err)
	decoded, err := imaging.Decode(strings.NewReader(string(raw)))
	require.NoError(t, err)
	require.Equal(t, 32, decoded.Bounds().Dx())
	require.Equal(t, 24, decoded.Bounds().Dy())

	_, err = EncodeJPEG(nil, 1, 1, 80)
	require.Error(t, err)
}

func TestDirectoryCameraReplaysInOrder(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, imaging.Save(imaging.New(8, 8, color.White), filepath.Join(dir, "b.png")))
	require.NoError(t, imaging.Save(imaging.New(4, 4, color.Black), filepath.Join(dir, "a.jpg")))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("skip"), 0o644))

	stream, err := DirectoryCamera{Dir: dir}.Open(context.Background(), 0, 0)
	require.NoError(t, err)
	require.True(t, stream.Ready())

	first, err := stream.Read()
	require.NoError(t, err)
	require.Equal(t, 4, first.Bounds().Dx())

	second, err := stream.Read()
	require.NoError(t, err)
	require.Equal(t, 8, second.Bounds().Dx())

	_, err = stream.Read()
	require.ErrorIs(t, err, ErrCameraLost)

	require.NoError(t, stream.Close())
	require.False(t, stream.Ready())
}

func TestDirectoryCameraLosesRemovedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.png")
	require.NoError(t, imaging.Save(imaging.New(4, 4, color.White), path))

	stream, err := DirectoryCamera{Dir: dir, Loop: true}.Open(context.Background(), 0, 0)
	require.NoError(t, err)

	_, err = stream.Read()
	require.NoError(t, err)
	require.NoError(t, os.Remove(path))

	_, err = stream.Read()
	require.True(t, errors.Is(err, ErrCameraLost))
}

func TestDirectoryCameraRejectsEmptyDirectory(t *testing.T) {
	_, err := DirectoryCamera{Dir: t.TempDir()}.Open(context.Background(), 0, 0)
	require.Error(t, err)

	_, err = DirectoryCamera{Dir: filepath.Join(t.TempDir(), "missing")}.Open(context.Background(), 0, 0)
	require.Error(t, err)
	require.False(t, errors.Is(err, ErrPermissionDenied))
}

func TestPatternCamera(t *testing.T) {
	stream, err := PatternCamera{}.Open(context.Background(), 20, 10)
	require.NoError(t, err)

	img, err := stream.Read()
	require.NoError(t, err)
	require.Equal(t, 20, img.Bounds().Dx())

	require.NoError(t, stream.Close())
	_, err = stream.Read()
	require.ErrorIs(t, err, ErrCameraLost)
}
