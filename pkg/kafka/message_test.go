package kafka

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRecordsMessage_Envelope(t *testing.T) {
	msg, err := ParseRecordsMessage([]byte(`{
		"run_id": "run-42",
		"records": [
			{"upc": "u1", "title": "Book One", "price": "£10.00"},
			{"upc": "u2", "title": "Book Two", "price": "£20.00"}
		]
	}`))

	require.NoError(t, err)
	assert.Equal(t, "run-42", msg.CrawlRunID)
	require.Len(t, msg.Records, 2)
	assert.Equal(t, "u1", msg.Records[0]["upc"])
}

func TestParseRecordsMessage_BareArray(t *testing.T) {
	msg, err := ParseRecordsMessage([]byte(`[{"upc": "u1"}, {"upc": "u2"}]`))

	require.NoError(t, err)
	assert.Empty(t, msg.CrawlRunID)
	assert.Len(t, msg.Records, 2)
}

func TestParseRecordsMessage_SingleRecordObject(t *testing.T) {
	msg, err := ParseRecordsMessage([]byte(`{"upc": "u1", "title": "Solo"}`))

	require.NoError(t, err)
	require.Len(t, msg.Records, 1)
	assert.Equal(t, "Solo", msg.Records[0]["title"])
}

func TestParseRecordsMessage_Invalid(t *testing.T) {
	_, err := ParseRecordsMessage([]byte(`not json`))
	require.Error(t, err)

	_, err = ParseRecordsMessage([]byte(`   `))
	require.Error(t, err)
}

func TestParseRecordsMessage_EmptyEnvelope(t *testing.T) {
	msg, err := ParseRecordsMessage([]byte(`{"run_id": "run-7", "records": []}`))

	require.NoError(t, err)
	assert.Equal(t, "run-7", msg.CrawlRunID)
	assert.Empty(t, msg.Records)
}
