package mesh

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func connectedPublisher(t *testing.T) (*Publisher, *MockClient) {
	t.Helper()
	t.Setenv("MQTT_PUBLISH_PREFIX", "")
	mock := NewMockClient()
	mock.SetConnected(true)
	return NewPublisher(mock, "survey"), mock
}

func TestNewPublisher_Prefix(t *testing.T) {
	t.Setenv("MQTT_PUBLISH_PREFIX", "")
	assert.Equal(t, "seabedmesh/progress", NewPublisher(nil, "").Topic("progress"))
	assert.Equal(t, "survey/map", NewPublisher(nil, "survey").Topic("map"))

	t.Setenv("MQTT_PUBLISH_PREFIX", "env")
	assert.Equal(t, "env/summary", NewPublisher(nil, "survey").Topic("summary"))
}

func TestPublisher_NotConnected(t *testing.T) {
	t.Setenv("MQTT_PUBLISH_PREFIX", "")
	assert.Error(t, NewPublisher(nil, "").PublishProgress(Progress{}))

	mock := NewMockClient()
	p := NewPublisher(mock, "")
	assert.Error(t, p.PublishSummary(Summary{}))
	assert.Empty(t, mock.Published())
}

func TestPublisher_PublishProgress(t *testing.T) {
	p, mock := connectedPublisher(t)

	progress := Progress{RunID: "r1", Counters: Counters{Processed: 50, Samples: 1200}}
	require.NoError(t, p.PublishProgress(progress))

	msgs := mock.PublishedTo("survey/progress")
	require.Len(t, msgs, 1)
	assert.False(t, msgs[0].Retain)
	assert.Equal(t, byte(0), msgs[0].QoS)

	var got Progress
	require.NoError(t, json.Unmarshal(msgs[0].Payload, &got))
	assert.Equal(t, "r1", got.RunID)
	assert.Equal(t, 50, got.Counters.Processed)

	last, ok := p.LastProgress()
	require.True(t, ok)
	assert.Equal(t, 1200, last.Counters.Samples)
}

func TestPublisher_PublishSummaryAndImage(t *testing.T) {
	p, mock := connectedPublisher(t)
	p.SetQoS(1)
	p.SetQoS(7) // ignored

	require.NoError(t, p.PublishSummary(Summary{RunID: "r1"}))
	require.NoError(t, p.PublishImage([]byte{0x89, 'P', 'N', 'G'}))
	assert.Error(t, p.PublishImage(nil))

	summary := mock.PublishedTo("survey/summary")
	require.Len(t, summary, 1)
	assert.True(t, summary[0].Retain)
	assert.Equal(t, byte(1), summary[0].QoS)

	img := mock.PublishedTo("survey/map")
	require.Len(t, img, 1)
	assert.True(t, img[0].Retain)
	assert.Equal(t, []byte{0x89, 'P', 'N', 'G'}, img[0].Payload)
}

func TestPublisher_PublishError(t *testing.T) {
	p, mock := connectedPublisher(t)
	mock.SetPublishError(errors.New("quota"))

	err := p.PublishProgress(Progress{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "survey/progress")
}

func TestNewSummary(t *testing.T) {
	res := testResult("r1", sessionTime(0))
	res.Track = orb.LineString{{0, 0}, {3, 4}}

	s := NewSummary("in.bag", "out.png", res, nil)
	assert.Equal(t, "r1", s.RunID)
	assert.Equal(t, [2]int{3, 2}, s.Size)
	assert.Equal(t, 3, s.Stats.Covered)
	assert.Equal(t, 5.0, s.Track)
	assert.InDelta(t, 3.0, s.Area, 1e-9)
	assert.Empty(t, s.Error)

	failed := NewSummary("in.bag", "", nil, ErrEmptyInput)
	assert.Equal(t, ErrEmptyInput.Error(), failed.Error)
	assert.NotZero(t, failed.Finished)
}
