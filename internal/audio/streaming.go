package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	errStreamClosed = errors.New("stream closed")
	errStalled      = errors.New("stream stalled")
)

// StreamReader downloads a remote file in the background and serves reads
// and seeks from the growing in-memory buffer. Reads past the downloaded
// region block until the data arrives or the download ends.
type StreamReader struct {
	url        string
	buffer     []byte
	position   int64
	totalSize  int64
	downloaded int64
	done       bool
	err        error
	ctx        context.Context
	cancel     context.CancelFunc
	mutex      sync.RWMutex
	cond       *sync.Cond
	httpClient *http.Client
	logger     *zap.Logger

	minBufferSize int64
	stallTimeout  time.Duration
	bufferReady   bool
	ready         chan struct{}
	readyOnce     sync.Once
}

// NewStreamReader starts downloading url. The download is independent of
// the caller's context and stops on Close, or with an error once no data has
// arrived for stallTimeout. A zero stallTimeout waits forever.
func NewStreamReader(client *http.Client, url string, minBufferSize int64, stallTimeout time.Duration, logger *zap.Logger) *StreamReader {
	ctx, cancel := context.WithCancel(context.Background())
	sr := &StreamReader{
		url:           url,
		ctx:           ctx,
		cancel:        cancel,
		httpClient:    client,
		logger:        logger.With(zap.String("url", url)),
		minBufferSize: minBufferSize,
		stallTimeout:  stallTimeout,
		ready:         make(chan struct{}),
	}
	sr.cond = sync.NewCond(&sr.mutex)

	go sr.startDownload()

	return sr
}

func (sr *StreamReader) startDownload() {
	defer func() {
		sr.mutex.Lock()
		sr.done = true
		sr.mutex.Unlock()
		sr.cond.Broadcast()
		sr.markReady()

		sr.logger.Debug("download finished", zap.Int64("bytes", sr.DownloadedSize()))
	}()

	req, err := http.NewRequestWithContext(sr.ctx, http.MethodGet, sr.url, nil)
	if err != nil {
		sr.setErr(err)
		return
	}

	req.Header.Set("User-Agent", "Sonata/1.0")
	req.Header.Set("Accept", "audio/mpeg, audio/wav, audio/*")
	req.Header.Set("Accept-Encoding", "identity")

	var watchdog *time.Timer
	if sr.stallTimeout > 0 {
		watchdog = time.AfterFunc(sr.stallTimeout, func() {
			sr.setErr(fmt.Errorf("%w: no data for %s", errStalled, sr.stallTimeout))
			sr.cancel()
		})
		defer watchdog.Stop()
	}

	resp, err := sr.httpClient.Do(req)
	if err != nil {
		sr.setErr(err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		sr.setErr(fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status))
		return
	}

	if cl := resp.Header.Get("Content-Length"); cl != "" {
		if v, perr := strconv.ParseInt(cl, 10, 64); perr == nil {
			sr.mutex.Lock()
			sr.totalSize = v
			sr.mutex.Unlock()
		}
	}

	sr.logger.Debug("download started",
		zap.Int64("content_length", sr.TotalSize()),
		zap.String("content_type", resp.Header.Get("Content-Type")))

	buf := make([]byte, 64*1024)
	lastLogTime := time.Now()

	for {
		select {
		case <-sr.ctx.Done():
			return
		default:
		}

		n, err := resp.Body.Read(buf)
		if n > 0 {
			if watchdog != nil {
				watchdog.Reset(sr.stallTimeout)
			}
			sr.mutex.Lock()
			sr.buffer = append(sr.buffer, buf[:n]...)
			sr.downloaded += int64(n)
			reached := !sr.bufferReady && sr.downloaded >= sr.minBufferSize
			if reached {
				sr.bufferReady = true
			}
			downloaded, total := sr.downloaded, sr.totalSize
			sr.mutex.Unlock()
			sr.cond.Broadcast()

			if reached {
				sr.markReady()
			}
			if total > 0 && time.Since(lastLogTime) > 5*time.Second {
				sr.logger.Debug("download progress",
					zap.Int64("downloaded", downloaded),
					zap.Int64("total", total))
				lastLogTime = time.Now()
			}
		}

		if err != nil {
			if err != io.EOF {
				sr.setErr(err)
			}
			return
		}
	}
}

func (sr *StreamReader) setErr(err error) {
	sr.mutex.Lock()
	if sr.err == nil {
		sr.err = err
	}
	sr.mutex.Unlock()
	sr.logger.Debug("download failed", zap.Error(err))
}

func (sr *StreamReader) markReady() {
	sr.readyOnce.Do(func() { close(sr.ready) })
}

// WaitReady blocks until the initial buffer is filled, the download ends or
// ctx is done. It returns the download error, if any.
func (sr *StreamReader) WaitReady(ctx context.Context) error {
	select {
	case <-sr.ready:
	case <-ctx.Done():
		return ctx.Err()
	}

	sr.mutex.RLock()
	defer sr.mutex.RUnlock()
	if sr.err != nil && len(sr.buffer) == 0 {
		return sr.err
	}
	return nil
}

func (sr *StreamReader) Read(p []byte) (int, error) {
	sr.mutex.Lock()
	defer sr.mutex.Unlock()

	for {
		if sr.err != nil {
			return 0, sr.err
		}

		available := int64(len(sr.buffer)) - sr.position
		if available > 0 {
			n := copy(p, sr.buffer[sr.position:])
			sr.position += int64(n)
			return n, nil
		}

		if sr.done {
			return 0, io.EOF
		}

		sr.cond.Wait()
	}
}

// Seek moves the read position. Seeking relative to the end waits until the
// size is known.
func (sr *StreamReader) Seek(offset int64, whence int) (int64, error) {
	sr.mutex.Lock()
	defer sr.mutex.Unlock()

	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = sr.position + offset
	case io.SeekEnd:
		for sr.totalSize <= 0 && !sr.done {
			sr.cond.Wait()
		}
		if sr.err != nil {
			return 0, sr.err
		}
		size := sr.totalSize
		if size <= 0 || sr.done {
			size = int64(len(sr.buffer))
		}
		abs = size + offset
	default:
		return 0, fmt.Errorf("seek: invalid whence %d", whence)
	}

	if abs < 0 {
		return 0, fmt.Errorf("seek: negative position %d", abs)
	}
	sr.position = abs
	return abs, nil
}

func (sr *StreamReader) Close() error {
	if sr.cancel != nil {
		sr.cancel()
	}
	sr.mutex.Lock()
	sr.done = true
	if sr.err == nil {
		sr.err = errStreamClosed
	}
	sr.mutex.Unlock()
	sr.cond.Broadcast()
	sr.markReady()
	return nil
}

func (sr *StreamReader) GetProgress() (downloaded, total int64, percentage float64) {
	sr.mutex.RLock()
	defer sr.mutex.RUnlock()

	downloaded = sr.downloaded
	total = sr.totalSize

	if total > 0 {
		percentage = float64(downloaded) / float64(total)
		if percentage > 1.0 {
			percentage = 1.0
		}
	}

	return downloaded, total, percentage
}

func (sr *StreamReader) IsComplete() bool {
	sr.mutex.RLock()
	defer sr.mutex.RUnlock()
	return sr.done
}

// IsBuffering reports whether the reader is waiting for data at its current position.
func (sr *StreamReader) IsBuffering() bool {
	sr.mutex.RLock()
	defer sr.mutex.RUnlock()
	if sr.done {
		return false
	}
	return !sr.bufferReady || sr.position >= int64(len(sr.buffer))
}

// TotalSize is the Content-Length, or 0 when the server sent none.
func (sr *StreamReader) TotalSize() int64 {
	sr.mutex.RLock()
	defer sr.mutex.RUnlock()
	return sr.totalSize
}

// DownloadedSize is how many bytes have arrived so far.
func (sr *StreamReader) DownloadedSize() int64 {
	sr.mutex.RLock()
	defer sr.mutex.RUnlock()
	return sr.downloaded
}
