// Package export writes a finished frame sequence to a container.
//
// Three sinks are available:
//
//   - gif: image/gif with an exact per-frame palette when a frame has at
//     most 256 colors (always true for two-color text captchas and gray
//     noise captchas), Floyd-Steinberg onto Plan9 otherwise
//   - apng: animated PNG via github.com/setanarut/apng, lossless
//   - mp4: H.264 through an ffmpeg process used as the container writer
//
// Export never regenerates or reorders frames. Failures are reported as
// RESOURCE_ERROR so callers can retry the export with the same frames.
package export
