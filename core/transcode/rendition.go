package transcode

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Rendition is one output quality of the adaptive stream.
type Rendition struct {
	Name         string // also the sub-playlist and segment file prefix
	Width        int
	Height       int
	VideoBitrate int // kbps
	AudioBitrate int // kbps
}

// Bandwidth is the peak bits per second advertised in the master playlist.
func (r Rendition) Bandwidth() int {
	return (r.VideoBitrate + r.AudioBitrate) * 1000
}

// Resolution renders WIDTHxHEIGHT.
func (r Rendition) Resolution() string {
	return fmt.Sprintf("%dx%d", r.Width, r.Height)
}

// DefaultLadder is used when no ladder is configured.
var DefaultLadder = []Rendition{
	{Name: "360p", Width: 640, Height: 360, VideoBitrate: 800, AudioBitrate: 96},
	{Name: "480p", Width: 854, Height: 480, VideoBitrate: 1400, AudioBitrate: 128},
	{Name: "720p", Width: 1280, Height: 720, VideoBitrate: 2800, AudioBitrate: 128},
	{Name: "1080p", Width: 1920, Height: 1080, VideoBitrate: 5000, AudioBitrate: 192},
}

// ParseLadder parses "name:WxH:videoKbps:audioKbps" entries separated by
// commas. An empty string yields DefaultLadder.
func ParseLadder(s string) ([]Rendition, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return SortLadder(DefaultLadder), nil
	}

	var ladder []Rendition
	seen := make(map[string]bool)
	for _, entry := range strings.Split(s, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.Split(entry, ":")
		if len(parts) != 4 {
			return nil, fmt.Errorf("rendition %q: want name:WxH:videoKbps:audioKbps", entry)
		}
		name := parts[0]
		if !validName(name) {
			return nil, fmt.Errorf("rendition %q: invalid name %q", entry, name)
		}
		if seen[name] {
			return nil, fmt.Errorf("rendition %q: duplicate name", entry)
		}
		seen[name] = true

		dims := strings.SplitN(strings.ToLower(parts[1]), "x", 2)
		if len(dims) != 2 {
			return nil, fmt.Errorf("rendition %q: invalid resolution %q", entry, parts[1])
		}
		nums := make([]int, 4)
		for i, raw := range []string{dims[0], dims[1], parts[2], parts[3]} {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				return nil, fmt.Errorf("rendition %q: %q must be a positive integer", entry, raw)
			}
			nums[i] = n
		}
		ladder = append(ladder, Rendition{
			Name:         name,
			Width:        nums[0],
			Height:       nums[1],
			VideoBitrate: nums[2],
			AudioBitrate: nums[3],
		})
	}
	if len(ladder) == 0 {
		return nil, fmt.Errorf("no renditions in %q", s)
	}
	return SortLadder(ladder), nil
}

// SortLadder returns a copy of ladder ordered by ascending bandwidth.
func SortLadder(ladder []Rendition) []Rendition {
	sorted := append([]Rendition(nil), ladder...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Bandwidth() < sorted[j].Bandwidth()
	})
	return sorted
}

func validName(name string) bool {
	if name == "" || name == "master" {
		return false
	}
	for _, r := range name {
		if !((r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' || r == '-') {
			return false
		}
	}
	return true
}
