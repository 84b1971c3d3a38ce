package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNopPublisher(t *testing.T) {
	var p Publisher = NopPublisher{}
	assert.NoError(t, p.Publish(context.Background(), SubjectFileUpdated, FileEvent{FileID: "f1"}))
	p.Close()
}

func TestFileEvent_JSON(t *testing.T) {
	ev := FileEvent{
		FileID:    "f1",
		OwnerID:   "owner",
		UserID:    "editor",
		Name:      "report.docx",
		Size:      10,
		Source:    "wopi",
		Timestamp: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	data, err := json.Marshal(ev)
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(data, &fields))
	assert.Equal(t, "f1", fields["file_id"])
	assert.Equal(t, "owner", fields["owner_id"])
	assert.Equal(t, "2024-01-02T03:04:05Z", fields["timestamp"])
}

func TestConnectNATS_Unreachable(t *testing.T) {
	_, err := ConnectNATS("nats://127.0.0.1:1")
	assert.Error(t, err)
}
