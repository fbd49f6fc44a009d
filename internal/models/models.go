// Package models lists every table the server migrates.
package models

import (
	"github.com/mnuddindev/disasterlink/internal/models/community"
	"github.com/mnuddindev/disasterlink/internal/models/incident"
	"github.com/mnuddindev/disasterlink/internal/models/user"
	"github.com/mnuddindev/disasterlink/internal/notify"
)

func RegisterModels() []interface{} {
	return []interface{}{
		&user.User{},
		&incident.Incident{},
		&incident.SOSRequest{},
		&community.Community{},
		&community.Post{},
		&community.Reaction{},
		&community.Comment{},
		&notify.Notification{},
	}
}

type (
	User         = user.User
	Incident     = incident.Incident
	SOSRequest   = incident.SOSRequest
	Community    = community.Community
	Post         = community.Post
	Reaction     = community.Reaction
	Comment      = community.Comment
	Notification = notify.Notification
)
