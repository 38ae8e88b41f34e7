package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionWireNames(t *testing.T) {
	end := int64(1700000005000)
	session := Session{
		SessionID:    "abc",
		StartTime:    1700000000000,
		EndTime:      &end,
		Page:         "/about",
		Clicks:       []Click{{X: 10, Y: 20, Target: "A", Text: "Blog", Timestamp: 1700000001000}},
		ScrollDepth:  40,
		TimeOnScreen: 5,
		Sections:     map[string]SectionStat{"about": {Time: 3, Enters: 1}},
		Events:       []Event{{Type: "click", Timestamp: 1700000001000, Label: "Blog"}},
		DeviceInfo:   DeviceInfo{ScreenSize: "1280x720"},
	}

	data, err := json.Marshal(session)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	for _, key := range []string{"sessionId", "startTime", "endTime", "page", "clicks", "scrollDepth", "timeOnScreen", "sections", "events", "deviceInfo"} {
		assert.Contains(t, raw, key)
	}
	click := raw["clicks"].([]any)[0].(map[string]any)
	assert.Equal(t, "A", click["target"])
	assert.Equal(t, "Blog", click["text"])
}

func TestSessionWithNullEndTime(t *testing.T) {
	var session Session
	err := json.Unmarshal([]byte(`{"sessionId":"s1","startTime":1700000000000,"endTime":null}`), &session)
	require.NoError(t, err)

	assert.Nil(t, session.EndTime)
	assert.Equal(t, time.UnixMilli(1700000000000).UTC(), session.LastSeen())

	data, err := json.Marshal(session)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"endTime":null`)
}

func TestLastSeenPrefersEndTime(t *testing.T) {
	end := int64(1700003600000)
	session := Session{StartTime: 1700000000000, EndTime: &end}
	assert.Equal(t, time.UnixMilli(end).UTC(), session.LastSeen())
}
