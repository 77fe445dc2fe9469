package audit

import (
	"time"

	"main/pkg/conn"

	"github.com/yanun0323/errors"
)

// ArchivedEvent is the persisted form of one audit event. Only the outbound
// audit stream is archived; engine state itself stays in memory.
type ArchivedEvent struct {
	ID       uint      `gorm:"primaryKey"`
	Time     time.Time `gorm:"index"`
	Category string
	Message  string
	Level    string
}

// TableName implements the gorm table naming convention.
func (ArchivedEvent) TableName() string {
	return "audit_events"
}

// Archive stores audit events in PostgreSQL.
type Archive struct {
	client *conn.Client
}

// NewArchive migrates the audit table and returns the sink.
func NewArchive(client *conn.Client) (*Archive, error) {
	if err := client.DB().AutoMigrate(&ArchivedEvent{}); err != nil {
		return nil, errors.Wrap(err, "migrate audit archive")
	}
	return &Archive{client: client}, nil
}

// Write implements Sink.
func (a *Archive) Write(event Event) error {
	row := ArchivedEvent{
		Time:     event.Time,
		Category: event.Category.String(),
		Message:  event.Message,
		Level:    event.Level.String(),
	}
	if err := a.client.DB().Create(&row).Error; err != nil {
		return errors.Wrap(err, "insert audit event")
	}
	return nil
}
