package estimator

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"math"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"bot-admission-gateway/internal/core"
)

var ErrNoModel = errors.New("estimator: no model available")

// Source says where the provider finds its artifact. Path wins over URL;
// a fetched artifact is cached at Path when one is set.
type Source struct {
	Path           string
	URL            string
	TrainOnMissing bool
	Train          TrainConfig
}

// Provider serves predictions from the currently loaded forest. Without a
// model every request gets the neutral prediction (false, 0).
type Provider struct {
	src    Source
	client *http.Client
	logger *slog.Logger

	model    atomic.Pointer[Forest]
	loadMu   sync.Mutex
	warnOnce sync.Once
}

var _ core.Estimator = (*Provider)(nil)

func NewProvider(src Source, logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{
		src:    src,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
	}
}

// Load resolves the artifact from the configured source and swaps it in.
// Concurrent predictions keep using the previous model until the swap.
func (p *Provider) Load(ctx context.Context) error {
	p.loadMu.Lock()
	defer p.loadMu.Unlock()

	forest, origin, err := p.resolve(ctx)
	if err != nil {
		return err
	}
	p.Set(forest)
	p.logger.Info("model loaded", "origin", origin, "trees", len(forest.Trees), "trained_at", forest.TrainedAt)
	return nil
}

func (p *Provider) resolve(ctx context.Context) (*Forest, string, error) {
	if p.src.Path != "" {
		forest, err := LoadFile(p.src.Path)
		if err == nil {
			return forest, p.src.Path, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, "", err
		}
	}

	if p.src.URL != "" {
		forest, err := FetchURL(ctx, p.client, p.src.URL)
		if err != nil {
			return nil, "", err
		}
		p.cache(forest)
		return forest, p.src.URL, nil
	}

	if p.src.TrainOnMissing {
		forest := Train(p.src.Train)
		p.cache(forest)
		return forest, "trained", nil
	}

	return nil, "", ErrNoModel
}

func (p *Provider) cache(forest *Forest) {
	if p.src.Path == "" {
		return
	}
	if err := SaveFile(p.src.Path, forest); err != nil {
		p.logger.Warn("could not cache model", "path", p.src.Path, "error", err)
	}
}

// Set installs a model directly.
func (p *Provider) Set(forest *Forest) {
	p.model.Store(forest)
}

// Model returns the active forest, or nil.
func (p *Provider) Model() *Forest {
	return p.model.Load()
}

func (p *Provider) Available() bool {
	return p.model.Load() != nil
}

// Predict never fails: a missing model yields (false, 0) and is reported
// once.
func (p *Provider) Predict(features core.FeatureVector) (bool, float64) {
	forest := p.model.Load()
	if forest == nil {
		p.warnOnce.Do(func() {
			p.logger.Warn("no model loaded, estimator disabled", "error", ErrNoModel)
		})
		return false, 0
	}

	anomalous, confidence := forest.Predict(features)
	if math.IsNaN(confidence) {
		return false, 0
	}
	return anomalous, confidence
}
