// Package deps verifies the external binaries (ffmpeg, ffprobe, yt-dlp) the
// media pipelines shell out to.
package deps
