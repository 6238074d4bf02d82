package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnowflakeJSON(t *testing.T) {
	testCases := []struct {
		input string
		want  Snowflake
	}{
		{input: `"175928847299117063"`, want: 175928847299117063},
		{input: `175928847299117063`, want: 175928847299117063},
		{input: `null`, want: 0},
		{input: `""`, want: 0},
	}
	for _, tc := range testCases {
		var s Snowflake
		require.NoError(t, json.Unmarshal([]byte(tc.input), &s), tc.input)
		assert.Equal(t, tc.want, s, tc.input)
	}
	b, err := json.Marshal(Snowflake(175928847299117063))
	require.NoError(t, err)
	assert.Equal(t, `"175928847299117063"`, string(b))

	var bad Snowflake
	assert.Error(t, json.Unmarshal([]byte(`"abc"`), &bad))
}

func TestSnowflakeTime(t *testing.T) {
	s := Snowflake(175928847299117063)
	want := time.Date(2016, 4, 30, 11, 18, 25, 796*int(time.Millisecond), time.UTC)
	assert.True(t, s.Time().Equal(want), "got %v want %v", s.Time().UTC(), want)
}

func TestSnowflakeShardID(t *testing.T) {
	guildID := Snowflake(41771983423143937)
	// (41771983423143937 >> 22) % 4
	want := int((uint64(guildID) >> 22) % 4)
	assert.Equal(t, want, guildID.ShardID(4))
	assert.Equal(t, 0, guildID.ShardID(1))
	assert.Equal(t, 0, guildID.ShardID(0))
}
