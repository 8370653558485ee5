package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimestampUnmarshal(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want time.Time
	}{
		{"naive with microseconds", `"2023-04-01T12:00:00.123456"`, time.Date(2023, 4, 1, 12, 0, 0, 123456000, time.Local)},
		{"naive seconds", `"2023-04-01T12:00:00"`, time.Date(2023, 4, 1, 12, 0, 0, 0, time.Local)},
		{"naive with space", `"2023-04-01 12:00:00.5"`, time.Date(2023, 4, 1, 12, 0, 0, 500000000, time.Local)},
		{"rfc3339 utc", `"2023-04-01T12:00:00Z"`, time.Date(2023, 4, 1, 12, 0, 0, 0, time.UTC)},
		{"rfc3339 offset", `"2023-04-01T15:00:00.25+03:00"`, time.Date(2023, 4, 1, 12, 0, 0, 250000000, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ts Timestamp
			require.NoError(t, json.Unmarshal([]byte(tt.raw), &ts))
			assert.True(t, tt.want.Equal(ts.Time), "got %s", ts.Time)
		})
	}
}

func TestTimestampNullAndInvalid(t *testing.T) {
	ts := NewTimestamp(time.Now())
	require.NoError(t, json.Unmarshal([]byte("null"), &ts))
	assert.True(t, ts.IsZero())

	require.Error(t, json.Unmarshal([]byte(`"yesterday"`), &ts))
	require.Error(t, json.Unmarshal([]byte(`1680350400`), &ts))
}

func TestSensorCardNaiveTime(t *testing.T) {
	var card SensorCard
	body := `{"card_id":"1001","num_images":3,"acquisition_time":"2023-04-01T12:00:00.123456","subdir_path":"a1b2","image_format":"tiff"}`
	require.NoError(t, json.Unmarshal([]byte(body), &card))
	assert.Equal(t, 2023, card.AcquisitionTime.Year())
	assert.Equal(t, 123456000, card.AcquisitionTime.Nanosecond())

	// Запись снова читается после кодирования
	data, err := json.Marshal(card)
	require.NoError(t, err)
	var back SensorCard
	require.NoError(t, json.Unmarshal(data, &back))
	assert.True(t, card.AcquisitionTime.Equal(back.AcquisitionTime.Time))
}
