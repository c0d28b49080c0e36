package video

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
)

const maxFrameBytes = 32 * 1024 * 1024

// FFmpegSource counts frames with ffprobe and decodes them with ffmpeg
// piping MJPEG to stdout.
type FFmpegSource struct {
	FFmpegPath  string
	FFprobePath string
}

func NewFFmpegSource(ffmpegPath, ffprobePath string) *FFmpegSource {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &FFmpegSource{FFmpegPath: ffmpegPath, FFprobePath: ffprobePath}
}

// errUnreadable means ffprobe ran and rejected the file.
var errUnreadable = errors.New("unreadable video")

// Open reports a file that ffprobe ran on and rejected as zero frames. A
// missing file, a missing or unrunnable ffprobe and a cancelled context are
// errors.
func (s *FFmpegSource) Open(ctx context.Context, path string) (Frames, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("open video: %w", err)
	}

	count, fps, err := s.probe(ctx, path)
	if errors.Is(err, errUnreadable) {
		slog.Warn("probe video, treating as empty", "path", path, "error", err)
		return emptyFrames{}, nil
	}
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return emptyFrames{}, nil
	}

	ctx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(ctx, s.FFmpegPath,
		"-hide_banner",
		"-loglevel", "error",
		"-i", path,
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-q:v", "3",
		"pipe:1",
	)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("ffmpeg stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("ffmpeg stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}

	f := &ffmpegFrames{
		cmd:    cmd,
		cancel: cancel,
		reader: bufio.NewReaderSize(stdout, 512*1024),
		count:  count,
		fps:    fps,
	}

	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			slog.Warn("ffmpeg stderr", "path", path, "output", scanner.Text())
		}
	}()

	return f, nil
}

// probe returns the frame count and frame rate of the first video stream.
func (s *FFmpegSource) probe(ctx context.Context, path string) (int, float64, error) {
	out, err := exec.CommandContext(ctx, s.FFprobePath,
		"-v", "error",
		"-select_streams", "v:0",
		"-count_packets",
		"-show_entries", "stream=nb_read_packets,r_frame_rate",
		"-of", "default=noprint_wrappers=1",
		path,
	).Output()
	if ctx.Err() != nil {
		return 0, 0, fmt.Errorf("ffprobe: %w", ctx.Err())
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return 0, 0, fmt.Errorf("%w: ffprobe exited %d: %s", errUnreadable,
			exitErr.ExitCode(), strings.TrimSpace(string(exitErr.Stderr)))
	}
	if err != nil {
		return 0, 0, fmt.Errorf("run ffprobe: %w", err)
	}
	return parseProbe(string(out))
}

// parseProbe reads "key=value" lines from ffprobe.
func parseProbe(out string) (int, float64, error) {
	count, fps := -1, 0.0
	for _, line := range strings.Split(out, "\n") {
		key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
		if !ok {
			continue
		}
		switch key {
		case "nb_read_packets":
			n, err := strconv.Atoi(value)
			if err != nil {
				return 0, 0, fmt.Errorf("%w: frame count %q", errUnreadable, value)
			}
			count = n
		case "r_frame_rate":
			fps = parseRate(value)
		}
	}
	if count < 0 {
		return 0, 0, fmt.Errorf("%w: no video stream", errUnreadable)
	}
	return count, fps, nil
}

// parseRate parses "30000/1001" or "25".
func parseRate(v string) float64 {
	num, den, found := strings.Cut(v, "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0
	}
	if !found {
		return n
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d == 0 {
		return 0
	}
	return n / d
}

type ffmpegFrames struct {
	cmd    *exec.Cmd
	cancel context.CancelFunc
	reader *bufio.Reader
	count  int
	fps    float64
	read   int
	wg     sync.WaitGroup
	once   sync.Once
}

func (f *ffmpegFrames) Count() int   { return f.count }
func (f *ffmpegFrames) FPS() float64 { return f.fps }

// Next returns io.EOF once Count frames were read or the stream ends.
func (f *ffmpegFrames) Next() (image.Image, error) {
	if f.read >= f.count {
		return nil, io.EOF
	}
	data, err := readJPEGFrame(f.reader)
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("read frame %d: %w", f.read, err)
	}
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode frame %d: %w", f.read, err)
	}
	f.read++
	return img, nil
}

func (f *ffmpegFrames) Close() error {
	f.once.Do(func() {
		f.cancel()
		_ = f.cmd.Wait()
		f.wg.Wait()
	})
	return nil
}

type emptyFrames struct{}

func (emptyFrames) Count() int                 { return 0 }
func (emptyFrames) FPS() float64               { return 0 }
func (emptyFrames) Next() (image.Image, error) { return nil, io.EOF }
func (emptyFrames) Close() error               { return nil }

// readJPEGFrame reads one image from a stream of concatenated JPEGs.
func readJPEGFrame(r *bufio.Reader) ([]byte, error) {
	if err := findJPEGStart(r); err != nil {
		return nil, err
	}
	return readUntilJPEGEnd(r)
}

func findJPEGStart(r *bufio.Reader) error {
	for {
		b, err := r.ReadByte()
		if err != nil {
			return err
		}
		if b != 0xFF {
			continue
		}
		b, err = r.ReadByte()
		if err != nil {
			return err
		}
		if b == 0xD8 {
			return nil
		}
	}
}

func readUntilJPEGEnd(r *bufio.Reader) ([]byte, error) {
	data := []byte{0xFF, 0xD8}

	for {
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		data = append(data, b)

		if b == 0xFF {
			next, err := r.ReadByte()
			if err != nil {
				return nil, err
			}
			data = append(data, next)
			if next == 0xD9 {
				return data, nil
			}
		}

		if len(data) > maxFrameBytes {
			return nil, fmt.Errorf("jpeg frame too large: %d bytes", len(data))
		}
	}
}
