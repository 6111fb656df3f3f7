// Package hydro implements the hydrological core of the watershed pipeline:
// depression resolution, D8 flow routing and accumulation, stream extraction,
// pour-point snapping, watershed delineation and terrain indices.
//
// Every operation takes its inputs by value (immutable rasters and masks from
// pkg/raster) and returns freshly allocated outputs; nothing is mutated in
// place and no state is kept between calls. Geometry compatibility is checked
// eagerly and failures are returned as sentinel errors, wrapped in CellError
// or SnapError when a grid cell is to blame.
package hydro
