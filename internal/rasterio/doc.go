// Package rasterio reads and writes the file formats the pipeline exchanges
// with the outside world: ESRI ASCII grids, the native WSR1 binary grid, PNG
// previews, and pour point lists as CSV or GeoJSON.
package rasterio
