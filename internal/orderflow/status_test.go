package orderflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStatus(t *testing.T) {
	cases := []struct {
		in   string
		want Status
	}{
		{"confirmed", StatusConfirmed},
		{"Confirmed", StatusConfirmed},
		{"  cancelled ", StatusCancelled},
		{"ready_for_fulfillment", StatusReadyForFulfillment},

		// Legacy spellings still on the wire.
		{"quote_sent", StatusQuoted},
		{"new-online", StatusNewOnline},
		{"in_progress", StatusPreparing},
		{"ready_for_pickup", StatusReadyForFulfillment},
	}

	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseStatus(tc.in)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestParseStatusUnknown(t *testing.T) {
	_, err := ParseStatus("shipped")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown order status")
}
