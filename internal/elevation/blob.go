package elevation

import (
	"context"
	"fmt"
	"path"
	"runtime"
	"strings"

	"golang.org/x/sync/errgroup"

	"watershed/internal/blob"
	"watershed/internal/rasterio"
	"watershed/pkg/raster"
)

// DefaultTilePrefix is the key prefix tiles are stored under.
const DefaultTilePrefix = "dem"

// BlobSource mosaics DEM tiles stored as <Prefix>/<level>/<name>.{asc,wsr}.
type BlobSource struct {
	Store   blob.Store
	Prefix  string // default DefaultTilePrefix
	Workers int    // concurrent tile decodes; default GOMAXPROCS
}

// TileKey returns the key a tile named name is stored under for level.
func (s BlobSource) TileKey(level int, name string) string {
	return path.Join(s.prefix(), fmt.Sprint(level), name)
}

func (s BlobSource) prefix() string {
	if s.Prefix == "" {
		return DefaultTilePrefix
	}
	return strings.TrimSuffix(s.Prefix, "/")
}

// Fetch implements Source. Every tile at the level is decoded; those
// intersecting the request are mosaicked and the result cropped to it.
func (s BlobSource) Fetch(ctx context.Context, req Request) (*raster.Raster, error) {
	infos, err := s.Store.List(ctx, s.prefix()+"/"+fmt.Sprint(req.Level)+"/")
	if err != nil {
		return nil, fmt.Errorf("elevation: list tiles: %w", err)
	}
	var keys []string
	for _, info := range infos {
		if _, err := rasterio.FormatOf(info.Key); err == nil {
			keys = append(keys, info.Key)
		}
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("%w: level %d", ErrNoTiles, req.Level)
	}

	tiles := make([]*raster.Raster, len(keys))
	g, gctx := errgroup.WithContext(ctx)
	workers := s.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	g.SetLimit(workers)
	for i, key := range keys {
		g.Go(func() error {
			tile, err := s.readTile(gctx, key)
			if err != nil {
				return err
			}
			tiles[i] = tile
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	whole := req.Bounds == (raster.Bounds{})
	var keep []*raster.Raster
	for _, tile := range tiles {
		if whole || tile.Geometry().Bounds().Intersects(req.Bounds) {
			keep = append(keep, tile)
		}
	}
	if len(keep) == 0 {
		return nil, fmt.Errorf("%w: %+v at level %d", ErrNoTiles, req.Bounds, req.Level)
	}
	dem, err := Mosaic(keep)
	if err != nil || whole {
		return dem, err
	}
	return Crop(dem, req.Bounds)
}

func (s BlobSource) readTile(ctx context.Context, key string) (*raster.Raster, error) {
	format, _ := rasterio.FormatOf(key)
	_, rc, err := s.Store.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("elevation: get %s: %w", key, err)
	}
	defer rc.Close()
	var tile *raster.Raster
	if format == rasterio.FormatWSR {
		tile, _, err = rasterio.ReadWSR(rc)
	} else {
		tile, err = rasterio.ReadASCII(rc)
	}
	if err != nil {
		return nil, fmt.Errorf("elevation: decode %s: %w", key, err)
	}
	return tile, nil
}
