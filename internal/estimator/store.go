package estimator

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// maxArtifactSize caps what FetchURL will read from a remote artifact.
const maxArtifactSize = 32 << 20

// LoadFile reads and validates an artifact from disk.
func LoadFile(path string) (*Forest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return decode(f)
}

// SaveFile writes the artifact atomically next to its final location.
func SaveFile(path string, forest *Forest) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".model-*.json")
	if err != nil {
		return err
	}
	enc := json.NewEncoder(tmp)
	if err := enc.Encode(forest); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// FetchURL downloads an artifact published by the trainer.
func FetchURL(ctx context.Context, client *http.Client, url string) (*Forest, error) {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("model fetch: unexpected status %d", resp.StatusCode)
	}
	return decode(io.LimitReader(resp.Body, maxArtifactSize))
}

func decode(r io.Reader) (*Forest, error) {
	var forest Forest
	if err := json.NewDecoder(r).Decode(&forest); err != nil {
		return nil, fmt.Errorf("decode model: %w", err)
	}
	if err := forest.Validate(); err != nil {
		return nil, err
	}
	return &forest, nil
}
