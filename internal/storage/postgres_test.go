package storage

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "groupcast/pkg/logx"
)

// GROUPCAST_TEST_POSTGRES_DSN points at a disposable database; its groupcast
// tables are emptied before the test runs.
func openPostgresForTest(t *testing.T) (*postgresStore, string) {
	t.Helper()
	dsn := os.Getenv("GROUPCAST_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("GROUPCAST_TEST_POSTGRES_DSN not set")
	}
	st, err := Open(Config{Driver: "postgres", Path: dsn}, logx.Nop())
	require.NoError(t, err)
	pg := st.(*postgresStore)
	_, err = pg.pool.Exec(context.Background(), `TRUNCATE batch_outcomes, batches, targets RESTART IDENTITY`)
	require.NoError(t, err)
	return pg, dsn
}

func TestPostgresStore(t *testing.T) {
	pg, dsn := openPostgresForTest(t)
	ctx := context.Background()

	// Insertion order wins over id order.
	require.NoError(t, pg.AddTarget(ctx, Target{ID: "zz@g.us", Name: "Z", Category: "Trabalho"}))
	require.NoError(t, pg.AddTarget(ctx, Target{ID: "aa@g.us", Name: "A", Category: "Devocional"}))
	require.NoError(t, pg.AddTarget(ctx, Target{ID: "mm@g.us", Name: "M", Category: "trabalho"}))
	assert.ErrorIs(t, pg.AddTarget(ctx, Target{ID: "aa@g.us", Name: "again", Category: "x"}), ErrTargetExists)

	work, err := pg.ListTargets(ctx, "TRABALHO")
	require.NoError(t, err)
	assert.Equal(t, []string{"zz@g.us", "mm@g.us"}, ids(work))

	require.NoError(t, pg.RemoveTarget(ctx, "aa@g.us"))
	assert.ErrorIs(t, pg.RemoveTarget(ctx, "aa@g.us"), ErrTargetNotFound)

	now := time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, pg.AppendBatch(ctx, BatchRecord{
		ID:         "b-pg",
		Source:     "cli",
		Message:    "hello",
		StartedAt:  now,
		FinishedAt: now.Add(13 * time.Second),
		Total:      3,
		Succeeded:  2,
		Failed:     1,
		Outcomes: []OutcomeRecord{
			{TargetID: "zz@g.us", Status: "success", Detail: `{"success":true}`, At: now},
			{TargetID: "mm@g.us", Status: "api_rejected", Detail: `{"success":false}`, At: now.Add(13 * time.Second)},
			{TargetID: "5511", Status: "success", At: now.Add(26 * time.Second)},
		},
	}))

	rows, err := pg.pool.Query(ctx, `SELECT target_id, status FROM batch_outcomes WHERE batch_id = $1 ORDER BY position`, "b-pg")
	require.NoError(t, err)
	var got []string
	for rows.Next() {
		var id, status string
		require.NoError(t, rows.Scan(&id, &status))
		got = append(got, id+"="+status)
	}
	require.NoError(t, rows.Err())
	assert.Equal(t, []string{"zz@g.us=success", "mm@g.us=api_rejected", "5511=success"}, got)

	// A duplicate batch id rolls back the whole record.
	assert.Error(t, pg.AppendBatch(ctx, BatchRecord{ID: "b-pg", Outcomes: []OutcomeRecord{{TargetID: "x", Status: "success", At: now}}}))
	require.NoError(t, pg.Close())

	st, err := Open(Config{Driver: "postgres", Path: dsn}, logx.Nop())
	require.NoError(t, err)
	defer st.Close()
	all, err := st.ListTargets(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"zz@g.us", "mm@g.us"}, ids(all))
}
