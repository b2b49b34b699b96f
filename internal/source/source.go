// Package source describes the announcement sites the worker sweeps.
package source

import (
	"sjsage522/bcfinder/internal/adapter"
	"sjsage522/bcfinder/internal/record"
	"sjsage522/bcfinder/services/notifier"
)

// Template decides how a source's records are rendered as notifications
type Template struct {
	MessageTitle string
	AltText      string
	Color        string

	// Record fields shown in the notification
	TitleField     string
	LinkField      string
	PublishedField string
}

// Source is one configured site. ID doubles as the dedup table name.
type Source struct {
	ID       string
	Name     string
	Adapter  adapter.Adapter
	Template Template
}

// Message renders a record as a notification
func (s Source) Message(rec record.Record) notifier.Message {
	return notifier.Message{
		SourceID:     s.ID,
		SourceName:   s.Name,
		MessageTitle: s.Template.MessageTitle,
		AltText:      s.Template.AltText,
		Color:        s.Template.Color,
		Title:        rec.Value(s.Template.TitleField),
		Link:         rec.Value(s.Template.LinkField),
		Published:    rec.Value(s.Template.PublishedField),
	}
}
