package cmd

import (
	"testing"
	"time"

	"go-retry/internal/deadletter"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListQuery(t *testing.T) {
	t.Cleanup(func() {
		listStatus, listFromDate, listToDate, listTopic = "", "", "", ""
		listCmd.Flags().VisitAll(func(f *pflag.Flag) { f.Changed = false })
	})
	require.NoError(t, listCmd.ParseFlags([]string{
		"--page", "2", "--page-size", "10", "--start-id", "5",
		"--status", "retrying", "--topic", "orders",
		"--from-date", "2024-03-01", "--to-date", "2024-03-31",
	}))

	q, err := listQuery(listCmd)
	require.NoError(t, err)
	assert.Equal(t, 2, q.Page)
	assert.Equal(t, 10, q.PageSize)
	require.NotNil(t, q.StartID)
	assert.Equal(t, int64(5), *q.StartID)
	assert.Nil(t, q.EndID)
	assert.Equal(t, deadletter.StatusRetrying, q.Status)
	assert.Equal(t, "orders", q.Topic)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), *q.FromDate)
	assert.Equal(t, time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC), *q.ToDate)
}

func TestListQuery_RejectsBadInput(t *testing.T) {
	t.Cleanup(func() { listStatus, listFromDate = "", "" })

	listStatus = "DONE"
	_, err := listQuery(listCmd)
	assert.Error(t, err)

	listStatus = ""
	listFromDate = "March 1"
	_, err = listQuery(listCmd)
	assert.Error(t, err)
}
