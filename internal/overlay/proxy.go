package overlay

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/warpcomdev/camerad/internal/config"
	"github.com/warpcomdev/camerad/internal/mjpeg"
	"github.com/warpcomdev/camerad/internal/ring"
	"github.com/warpcomdev/camerad/internal/servicelog"
)

var (
	framesProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "overlay_frames_processed_total",
		Help: "Upstream frames annotated and re-emitted",
	})
	upstreamReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "overlay_upstream_reconnects_total",
		Help: "Times the upstream MJPEG connection was (re)established",
	})
)

// Proxy wires the upstream consumer, the annotator, the downstream
// ring/re-emitter, and the archiver into the single pipeline described
// by spec.md §4.10.
type Proxy struct {
	Consumer  *Consumer
	Annotator *Annotator
	Archiver  *Archiver
	Ring      *ring.Ring
	Logger    servicelog.Logger
	nowFn     func() time.Time
}

// New builds a Proxy. outputRing backs the downstream /stream and
// should be sized generously enough to cover concurrent client
// pacing; it need not match the upstream ring's capacity.
func New(upstreamURL string, outputRing *ring.Ring, archiver *Archiver, watermark string, logger servicelog.Logger) *Proxy {
	if logger == nil {
		logger = servicelog.NewNop()
	}
	return &Proxy{
		Consumer:  NewConsumer(upstreamURL),
		Annotator: NewAnnotator(watermark),
		Archiver:  archiver,
		Ring:      outputRing,
		Logger:    logger,
	}
}

func (p *Proxy) now() time.Time {
	if p.nowFn != nil {
		return p.nowFn()
	}
	return time.Now()
}

// Run connects to the upstream stream and annotates frames until ctx
// is cancelled, reconnecting with a backoff on any upstream error.
func (p *Proxy) Run(ctx context.Context) {
	backoff := time.Second
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if err := p.runOnce(ctx); err != nil {
			p.Logger.Warn("overlay: upstream connection lost, reconnecting", servicelog.Error(err), servicelog.Duration("backoff", backoff))
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second
	}
}

func (p *Proxy) runOnce(ctx context.Context) error {
	stream, err := p.Consumer.Open()
	if err != nil {
		return err
	}
	defer stream.Close()
	upstreamReconnects.Inc()
	p.Logger.Info("overlay: upstream connected", servicelog.String("url", p.Consumer.UpstreamURL))

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		rec, err := stream.Next()
		if err != nil {
			return err
		}
		annotated := p.Annotator.Annotate(rec)
		rec.Image = annotated
		p.Ring.Append(rec)
		framesProcessed.Inc()
		if p.Archiver != nil {
			p.Archiver.Record(p.now(), rec)
		}
	}
}

// Downstream builds the HTTP handler serving the re-annotated stream
// on /stream, reusing internal/mjpeg's multipart-writer idiom and
// wrapping it with an optional bearer-token check.
func Downstream(outputRing *ring.Ring, cfg *config.Live, logger servicelog.Logger) http.Handler {
	handler := mjpeg.New(outputRing, cfg, logger)
	middleware := NewTokenMiddleware(func() string { return cfg.Snapshot().Network.OverlayToken })
	return middleware.Wrap(handler)
}
