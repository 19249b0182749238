package testutil

import (
	"time"

	"github.com/zjrosen/repoloop/internal/session"
)

// WithStandardRecords adds one published record and one that failed on a
// name collision.
func (b *Builder) WithStandardRecords() *Builder {
	return b.
		WithRecord(1, Created()).
		WithRecord(2, RepoName(b.session.Config.NamePrefix+"-2-zzz999"), Failed("gh repo create: name already exists"))
}

// FinishedSession returns a completed session holding the standard records.
func FinishedSession(opts ...SessionOption) *session.Session {
	base := []SessionOption{
		Status(session.StatusDone),
		CurrentIteration(1),
		EndedAt(BaseTime.Add(5 * time.Minute)),
	}
	return NewBuilder(append(base, opts...)...).WithStandardRecords().Build()
}
