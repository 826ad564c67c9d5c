package model

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"

	"github.com/esimov/irisview/utils"
	"github.com/schollz/progressbar/v3"
)

// Progress receives the loaded fraction of an artifact, in [0, 1].
type Progress func(fraction float64)

// Tee fans a progress update out to every non-nil receiver.
func Tee(fns ...Progress) Progress {
	return func(f float64) {
		for _, fn := range fns {
			if fn != nil {
				fn(f)
			}
		}
	}
}

// LogProgress reports the loading progress through the logger.
func LogProgress(l *log.Logger) Progress {
	return func(f float64) {
		l.Printf("Model loading progress: %.2f%%", f*100)
	}
}

// NewProgressBar renders the loading progress as a terminal progress bar.
func NewProgressBar(w io.Writer, description string) Progress {
	bar := progressbar.NewOptions(100,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWriter(w),
		progressbar.OptionClearOnFinish(),
	)
	return func(f float64) {
		_ = bar.Set(int(f * 100))
		if f >= 1 {
			_ = bar.Finish()
		}
	}
}

// Fetch reads a model artifact from a local file or an http(s) URL.
func Fetch(ctx context.Context, src string, progress Progress) ([]byte, error) {
	var (
		r    io.ReadCloser
		size int64
	)

	if utils.IsValidUrl(src) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
		if err != nil {
			return nil, fmt.Errorf("invalid artifact URI %s: %w", src, err)
		}
		res, err := http.DefaultClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("unable to download model artifact from URI %s: %w", src, err)
		}
		if res.StatusCode != http.StatusOK {
			res.Body.Close()
			return nil, fmt.Errorf("unable to download model artifact from URI %s, status %v", src, res.Status)
		}
		r, size = res.Body, res.ContentLength
	} else {
		f, err := os.Open(src)
		if err != nil {
			return nil, fmt.Errorf("could not open the model artifact: %w", err)
		}
		fi, err := f.Stat()
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("could not stat the model artifact: %w", err)
		}
		r, size = f, fi.Size()
	}
	defer r.Close()

	data, err := io.ReadAll(&progressReader{r: r, total: size, fn: progress})
	if err != nil {
		return nil, fmt.Errorf("unable to read model artifact: %w", err)
	}
	if progress != nil {
		progress(1)
	}
	return data, nil
}

// progressReader reports the fraction of total bytes read so far.
// Reports are skipped when the total size is unknown.
type progressReader struct {
	r     io.Reader
	total int64
	read  int64
	fn    Progress
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	p.read += int64(n)
	if p.fn != nil && p.total > 0 && n > 0 && p.read < p.total {
		p.fn(float64(p.read) / float64(p.total))
	}
	return n, err
}
