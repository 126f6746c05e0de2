// Package transcode runs the local ffmpeg pipelines: web normalization to
// VP9/Opus and multi-rendition HLS packaging with a synthesized master
// playlist.
package transcode
