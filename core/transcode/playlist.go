package transcode

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// MasterPlaylistName is the file players load first.
const MasterPlaylistName = "master.m3u8"

// PlaylistName is the sub-playlist file for r.
func PlaylistName(r Rendition) string {
	return r.Name + ".m3u8"
}

// SegmentPattern is the encoder's segment filename template for r.
func SegmentPattern(r Rendition) string {
	return r.Name + "_%03d.ts"
}

// BuildMasterPlaylist renders the master playlist with renditions in
// ascending bandwidth order.
func BuildMasterPlaylist(ladder []Rendition) string {
	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:3\n")
	for _, r := range SortLadder(ladder) {
		fmt.Fprintf(&b, "#EXT-X-STREAM-INF:BANDWIDTH=%d,RESOLUTION=%s,NAME=\"%s\"\n", r.Bandwidth(), r.Resolution(), r.Name)
		b.WriteString(PlaylistName(r))
		b.WriteString("\n")
	}
	return b.String()
}

// WriteMasterPlaylist checks that every rendition playlist exists in dir and
// then writes master.m3u8 there. The file appears atomically.
func WriteMasterPlaylist(dir string, ladder []Rendition) (string, error) {
	if len(ladder) == 0 {
		return "", fmt.Errorf("no renditions to list")
	}
	for _, r := range ladder {
		p := filepath.Join(dir, PlaylistName(r))
		if _, err := os.Stat(p); err != nil {
			return "", fmt.Errorf("rendition %s playlist missing: %w", r.Name, err)
		}
	}

	tmp, err := os.CreateTemp(dir, ".master-*.m3u8")
	if err != nil {
		return "", fmt.Errorf("failed to create master playlist: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.WriteString(BuildMasterPlaylist(ladder)); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("failed to write master playlist: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("failed to write master playlist: %w", err)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		os.Remove(tmpName)
		return "", err
	}

	master := filepath.Join(dir, MasterPlaylistName)
	if err := os.Rename(tmpName, master); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("failed to publish master playlist: %w", err)
	}
	return master, nil
}
