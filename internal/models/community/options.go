package community

import (
	"strings"
)

// PostOption adjusts a post before it is stored.
type PostOption func(*Post)

func WithPostContent(content string) PostOption {
	return func(p *Post) {
		p.Content = strings.TrimSpace(content)
	}
}

func WithPinned(pinned bool) PostOption {
	return func(p *Post) { p.IsPinned = pinned }
}

func WithCommentsAllowed(allowed bool) PostOption {
	return func(p *Post) { p.AllowComments = allowed }
}

func WithPostStatus(status PostStatus) PostOption {
	return func(p *Post) {
		p.Status = status
	}
}

func WithLocation(lat, lng float64, name string) PostOption {
	return func(p *Post) {
		p.Latitude = &lat
		p.Longitude = &lng
		p.LocationName = strings.TrimSpace(name)
	}
}
