package cli

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTriggerRejectsUnknownJob(t *testing.T) {
	cli, err := NewJobsCLI("127.0.0.1:1")
	require.NoError(t, err)
	defer cli.Close()

	_, err = cli.Trigger(context.Background(), "never:registered")
	require.Error(t, err)
	require.Contains(t, err.Error(), "unsupported job")
}

func TestTriggerRequiresClient(t *testing.T) {
	cli := &JobsCLI{}
	_, err := cli.Trigger(context.Background(), "session:sweep")
	require.Error(t, err)
}

func TestPendingRequiresInspector(t *testing.T) {
	cli := &JobsCLI{}
	_, err := cli.Pending()
	require.Error(t, err)
}
