package casstore

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/ninjra/autocapture-pipeline/pkg/artifact"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validEnvelope() *artifact.Envelope {
	return &artifact.Envelope{
		ArtifactID:    "a1",
		Kind:          artifact.KindFrame,
		SchemaVersion: 1,
		CreatedTsMs:   1000,
		Producer:      artifact.Producer{PluginID: "p", PluginVersion: "1", ConfigHash: "h"},
		Provenance: artifact.Provenance{
			ProducerPluginID: "p", ProducerPluginVersion: "1", ConfigHash: "h", CreatedTsMs: 1000,
		},
		Evidence: []artifact.EvidenceRef{{MediaID: "m1", SHA256: "abc"}},
	}
}

// TestPutRecord_RollsBackOnProjectionUpsertFailure exercises the
// transaction-abort path that a real sqlite connection can't easily
// trigger deterministically: the record insert succeeds but the
// projection upsert fails, so the whole write must roll back rather
// than leave a dangling record row (§4.1: "writes are transactional").
func TestPutRecord_RollsBackOnProjectionUpsertFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := &Store{db: db}
	env := validEnvelope()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT OR IGNORE INTO records").
		WithArgs(env.ArtifactID, string(env.Kind), env.SchemaVersion, env.CreatedTsMs, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT OR REPLACE INTO metadata_projection").
		WillReturnError(assert.AnError)
	mock.ExpectRollback()

	_, err = s.PutRecord(context.Background(), env, ProjectionRow{Kind: env.Kind, TsMs: env.CreatedTsMs})
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPutRecord_CommitsOnSuccess(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := &Store{db: db}
	env := validEnvelope()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT OR IGNORE INTO records").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT OR REPLACE INTO metadata_projection").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	id, err := s.PutRecord(context.Background(), env, ProjectionRow{Kind: env.Kind, TsMs: env.CreatedTsMs})
	require.NoError(t, err)
	assert.Equal(t, "a1", id)
	assert.NoError(t, mock.ExpectationsWereMet())
}
