package thumbnails

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"net/http"
	"time"

	"github.com/disintegration/imaging"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"github.com/5l1v3r1/tellecast-sub000/internal/broker"
	"github.com/5l1v3r1/tellecast-sub000/internal/models"
	"github.com/5l1v3r1/tellecast-sub000/internal/observability"
	"github.com/5l1v3r1/tellecast-sub000/pkg/apperr"
)

const (
	Quality    = 75
	MaxRetries = 5
	Countdown  = 1 * time.Second
	SoftLimit  = 3600 * time.Second
	HardLimit  = 7200 * time.Second

	maxSourceBytes = 64 << 20
)

// SourceLoader resolves an object reference to its image fields.
type SourceLoader interface {
	GetMediaSource(ctx context.Context, ref models.ObjectRef) (*models.MediaSource, error)
}

type Options struct {
	Countdown  time.Duration
	MaxRetries int
	SoftLimit  time.Duration
	HardLimit  time.Duration
}

func (o *Options) defaults() {
	if o.Countdown <= 0 {
		o.Countdown = Countdown
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = MaxRetries
	}
	if o.SoftLimit <= 0 {
		o.SoftLimit = SoftLimit
	}
	if o.HardLimit <= 0 {
		o.HardLimit = HardLimit
	}
}

// Worker consumes api.tasks.thumbnails.
type Worker struct {
	sources SourceLoader
	store   ObjectStore
	http    *retryablehttp.Client
	opts    Options
	log     *zap.Logger
}

func NewWorker(sources SourceLoader, store ObjectStore, opts Options, log *zap.Logger) *Worker {
	opts.defaults()
	client := retryablehttp.NewClient()
	client.RetryMax = 0
	client.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler
	client.Logger = nil
	return &Worker{sources: sources, store: store, http: client, opts: opts, log: log.Named("thumbnails")}
}

// Handle is the broker handler. Transient failures are retried in
// process; jobs are acked once they succeed or fail for good.
func (w *Worker) Handle(ctx context.Context, d broker.Delivery) error {
	msg, err := broker.Decode(d.Exchange, d.Body)
	if err != nil {
		return err
	}
	job, ok := msg.(broker.Thumbnail)
	if !ok {
		return apperr.E(apperr.Permanent, "thumbnails: unexpected message %T", msg)
	}
	w.Run(ctx, job.Ref)
	return nil
}

// Run processes ref under the soft and hard time limits with up to
// MaxRetries attempts. Failures are reported, never returned.
func (w *Worker) Run(ctx context.Context, ref models.ObjectRef) {
	log := w.log.With(zap.String("kind", string(ref.Kind)), zap.Int64("id", ref.ID))

	softCtx, cancel := context.WithTimeout(ctx, w.opts.SoftLimit)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- w.retry(softCtx, ref) }()

	hard := time.NewTimer(w.opts.HardLimit)
	defer hard.Stop()

	var err error
	select {
	case err = <-done:
	case <-hard.C:
		cancel()
		err = apperr.E(apperr.Permanent, "thumbnails: hard time limit exceeded")
	}
	if err == nil {
		return
	}

	observability.Thumbnails.WithLabelValues(string(ref.Kind), "failed").Inc()
	log.Error("thumbnail job failed", zap.Error(err))
	observability.Report(err, map[string]interface{}{"kind": ref.Kind, "id": ref.ID})
}

func (w *Worker) retry(ctx context.Context, ref models.ObjectRef) error {
	var err error
	for attempt := 0; attempt <= w.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return apperr.Wrap(apperr.Transient, "thumbnails: cancelled", ctx.Err())
			case <-time.After(w.opts.Countdown):
			}
		}
		err = w.Process(ctx, ref)
		if err == nil || !apperr.Retryable(err) {
			return err
		}
		w.log.Warn("retrying thumbnail job", zap.Int("attempt", attempt+1), zap.Error(err))
	}
	return err
}

// Process creates every missing derivative of ref. Running it again
// leaves the object store unchanged.
func (w *Worker) Process(ctx context.Context, ref models.ObjectRef) error {
	src, err := w.sources.GetMediaSource(ctx, ref)
	if err != nil {
		if apperr.Is(err, apperr.NotFound) {
			return apperr.Wrap(apperr.Permanent, "thumbnails: object is gone", err)
		}
		return err
	}

	// Sources are fetched once and shared by their derivatives.
	fetched := make(map[string]*sourceImage)
	for _, d := range Plan(src) {
		exists, err := w.store.Exists(ctx, d.Key())
		if err != nil {
			return err
		}
		if exists {
			observability.Thumbnails.WithLabelValues(string(ref.Kind), "exists").Inc()
			continue
		}

		img, ok := fetched[d.Source]
		if !ok {
			if img, err = w.fetch(ctx, d); err != nil {
				return err
			}
			fetched[d.Source] = img
		}

		data, contentType, err := Render(img.image, img.mime, d.Width)
		if err != nil {
			return err
		}
		if err := w.store.Put(ctx, d.Key(), data, contentType); err != nil {
			return err
		}
		observability.Thumbnails.WithLabelValues(string(ref.Kind), "created").Inc()
		w.log.Debug("derivative stored", zap.String("key", d.Key()))
	}
	return nil
}

type sourceImage struct {
	image image.Image
	mime  string
}

func (w *Worker) fetch(ctx context.Context, d Derivative) (*sourceImage, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, d.Source, nil)
	if err != nil {
		return nil, apperr.Wrap(apperr.Permanent, "thumbnails: source url", err)
	}
	resp, err := w.http.Do(req)
	if err != nil {
		return nil, apperr.Wrap(apperr.Transient, "thumbnails: fetch source", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return nil, apperr.E(apperr.Permanent, "thumbnails: source %s returned %d", d.Source, resp.StatusCode)
	default:
		return nil, apperr.E(apperr.Transient, "thumbnails: source %s returned %d", d.Source, resp.StatusCode)
	}

	img, err := imaging.Decode(io.LimitReader(resp.Body, maxSourceBytes), imaging.AutoOrientation(true))
	if err != nil {
		return nil, apperr.Wrap(apperr.Permanent, "thumbnails: decode source", err)
	}

	mimeType := d.MIME
	if mimeType == "" {
		mimeType = mimeFromURL(d.Source)
	}
	if mimeType == "" {
		mimeType = resp.Header.Get("Content-Type")
	}
	return &sourceImage{image: img, mime: mimeType}, nil
}

// Render shrinks img to width (never enlarging it) and encodes it in the
// format derived from mimeType.
func Render(img image.Image, mimeType string, width int) ([]byte, string, error) {
	bounds := img.Bounds()
	if bounds.Dx() > width {
		img = imaging.Fit(img, width, bounds.Dy(), imaging.Lanczos)
	}
	format, contentType := FormatFor(mimeType)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, format, imaging.JPEGQuality(Quality)); err != nil {
		return nil, "", fmt.Errorf("thumbnails: encode: %w", err)
	}
	return buf.Bytes(), contentType, nil
}

// Lister enumerates every object that may carry an image.
type Lister interface {
	ListMediaRefs(ctx context.Context) ([]models.ObjectRef, error)
}

// Backfill submits one job per stored object and returns how many were
// queued.
func Backfill(ctx context.Context, lister Lister, pub broker.Publisher, log *zap.Logger) (int, error) {
	refs, err := lister.ListMediaRefs(ctx)
	if err != nil {
		return 0, err
	}
	for i, ref := range refs {
		if err := broker.Submit(ctx, pub, broker.QueueThumbnails, ref); err != nil {
			return i, err
		}
	}
	log.Info("thumbnail backfill queued", zap.Int("jobs", len(refs)))
	return len(refs), nil
}
