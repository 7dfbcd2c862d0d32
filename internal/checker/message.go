package checker

import (
	"strings"
	"time"

	"codetraq/internal/storage"
)

const bodyDivider = "--------------------------------------------------------------"

// NewMessage builds the queued notification for a server snapshot. The body
// is rendered once here so the dispatcher only has to deliver it.
func NewMessage(sr *storage.ServerRevision, rcpt storage.Recipient) *storage.Message {
	subject := "New revision detected for " + sr.ShortName + " (" + sr.RevisionID + ")"
	return &storage.Message{
		ServerName: sr.ShortName,
		Timestamp:  sr.RevisionTimestamp,
		RevisionID: sr.RevisionID,
		Author:     sr.Author,
		Subject:    subject,
		Body:       renderBody(subject, sr),
		Files:      sr.Files,
		Recipient:  rcpt,
	}
}

func renderBody(subject string, sr *storage.ServerRevision) string {
	var b strings.Builder
	b.WriteString(subject)
	b.WriteByte('\n')
	b.WriteString(bodyDivider)
	b.WriteByte('\n')
	b.WriteString("revision: " + sr.RevisionID + "\n")
	b.WriteString("author: " + sr.Author + "\n")
	b.WriteString("date: " + sr.RevisionTimestamp.Format(time.RFC1123) + "\n")
	b.WriteString("message: " + sr.Message + "\n")
	b.WriteString(bodyDivider)
	b.WriteByte('\n')
	b.WriteString("modified files:\n")
	for _, f := range sr.Files {
		b.WriteString(f.String())
		b.WriteByte('\n')
	}
	return b.String()
}
