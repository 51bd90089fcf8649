package store

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"task-manager/internal/models"
)

func TestFlattenUnflattenRoundTrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		task models.Task
	}{
		{
			name: "without location",
			task: models.Task{ID: "t1", Name: "write report", Description: "q3", Timestamp: 1700000000},
		},
		{
			name: "with location",
			task: models.Task{
				ID: "t2", Name: "A", Description: "", Timestamp: 1700000001,
				Location: &models.Location{ID: "l1", Name: "office", Description: "hq", Longitude: -0.1001, Latitude: 51.5001},
			},
		},
		{
			name: "extreme coordinates keep full precision",
			task: models.Task{
				ID: "t3", Name: "edge", Timestamp: 1,
				Location: &models.Location{ID: "l2", Longitude: -180, Latitude: 85.05112878},
			},
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := Unflatten(Flatten(tc.task))
			require.NoError(t, err)
			if diff := cmp.Diff(tc.task, got); diff != "" {
				t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestFlattenFieldLayout(t *testing.T) {
	t.Parallel()

	rec := Flatten(models.Task{
		ID: "t1", Name: "n", Description: "d", Timestamp: 5,
		Location: &models.Location{ID: "l1", Name: "ln", Description: "ld", Longitude: 1.5, Latitude: -2.25},
	})
	assert.Equal(t, map[string]string{
		"id":                   "t1",
		"name":                 "n",
		"description":          "d",
		"timestamp":            "5",
		"location_id":          "l1",
		"location_name":        "ln",
		"location_description": "ld",
		"location_longitude":   "1.5",
		"location_latitude":    "-2.25",
	}, rec)

	rec = Flatten(models.Task{ID: "t2", Timestamp: 6})
	assert.NotContains(t, rec, "location_id")
	assert.Len(t, rec, 4)
}

func TestUnflattenMalformed(t *testing.T) {
	t.Parallel()

	_, err := Unflatten(map[string]string{"name": "x"})
	assert.ErrorIs(t, err, errMalformedRecord)

	_, err = Unflatten(map[string]string{"id": "t", "timestamp": "yesterday"})
	assert.ErrorIs(t, err, errMalformedRecord)

	_, err = Unflatten(map[string]string{"id": "t", "timestamp": "1", "location_id": "l", "location_longitude": "east"})
	assert.ErrorIs(t, err, errMalformedRecord)
}

func TestUnflattenEmptyLocationIDMeansNoLocation(t *testing.T) {
	t.Parallel()

	task, err := Unflatten(map[string]string{"id": "t", "timestamp": "1", "location_id": ""})
	require.NoError(t, err)
	assert.Nil(t, task.Location)
}
