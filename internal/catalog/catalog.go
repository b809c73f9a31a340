// Package catalog answers "which streams can show this camera, in which
// order" from the YAML configuration or a SQLite database.
package catalog

import (
	"errors"
	"fmt"

	streamsupervisor "github.com/e7canasta/stream-supervisor"
	"github.com/e7canasta/stream-supervisor/internal/config"
)

// ErrCameraNotFound is returned for unknown camera ids.
var ErrCameraNotFound = errors.New("catalog: camera not found")

// Catalog is a candidate resolver that can also enumerate cameras.
type Catalog interface {
	streamsupervisor.CandidateResolver

	// Camera returns the identity and policy overrides of one camera.
	Camera(id string) (streamsupervisor.Camera, error)
	// Cameras lists every camera, ordered by id.
	Cameras() ([]streamsupervisor.Camera, error)
	Close() error
}

// Open returns the catalog selected by cfg.Catalog.Driver.
func Open(cfg *config.Config) (Catalog, error) {
	switch cfg.Catalog.Driver {
	case "", "yaml":
		return NewYAML(cfg.Cameras), nil
	case "sqlite":
		db, err := OpenSQLite(cfg.Catalog.SQLitePath)
		if err != nil {
			return nil, err
		}
		return db, nil
	default:
		return nil, fmt.Errorf("catalog: unknown driver %q", cfg.Catalog.Driver)
	}
}

// YAMLCatalog serves the cameras declared in the configuration file.
type YAMLCatalog struct {
	cameras map[string]config.CameraConfig
	order   []string
}

// NewYAML indexes the configured cameras.
func NewYAML(cameras []config.CameraConfig) *YAMLCatalog {
	c := &YAMLCatalog{cameras: make(map[string]config.CameraConfig, len(cameras))}
	for _, cam := range cameras {
		if _, dup := c.cameras[cam.ID]; !dup {
			c.order = append(c.order, cam.ID)
		}
		c.cameras[cam.ID] = cam
	}
	return c
}

// ResolveCandidates implements streamsupervisor.CandidateResolver.
func (c *YAMLCatalog) ResolveCandidates(camera streamsupervisor.Camera) ([]streamsupervisor.StreamDescriptor, error) {
	cam, ok := c.cameras[camera.ID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCameraNotFound, camera.ID)
	}
	return cam.Descriptors(), nil
}

// Camera implements Catalog.
func (c *YAMLCatalog) Camera(id string) (streamsupervisor.Camera, error) {
	cam, ok := c.cameras[id]
	if !ok {
		return streamsupervisor.Camera{}, fmt.Errorf("%w: %s", ErrCameraNotFound, id)
	}
	return cam.Camera(), nil
}

// Cameras implements Catalog. Order follows the configuration file.
func (c *YAMLCatalog) Cameras() ([]streamsupervisor.Camera, error) {
	out := make([]streamsupervisor.Camera, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.cameras[id].Camera())
	}
	return out, nil
}

// Close implements Catalog.
func (c *YAMLCatalog) Close() error { return nil }
