// Package imaging provides the pixel-level helpers shared by the symbol
// pipeline: loading and caching drawings, cropping detections, encoding crops
// for reports, drawing box overlays and counting ink.
//
// # Coordinate System
//
// All pixel coordinates in this package are 0-based:
//   - X: horizontal position (0 = leftmost pixel)
//   - Y: vertical position (0 = topmost pixel)
//   - For regions, (x1,y1) is inclusive (top-left), (x2,y2) is exclusive (bottom-right)
//
// Crops always come back with a (0,0) origin, so boxes found inside a crop are
// local to it and must be translated by the crop's offset.
//
// # Thread Safety
//
// ImageCache is safe for concurrent use. The other functions never mutate
// their inputs; drawing helpers work on a copy.
//
// # Colors
//
// Palette hands out one color per legend class: a fixed list of ten strong
// colors first, then evenly spread hues. Unassigned symbols use UnassignedColor.
package imaging
