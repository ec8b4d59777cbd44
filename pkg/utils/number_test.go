package utils_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/citygeo/case-sync/pkg/utils"
)

func TestParseInt64(t *testing.T) {
	v, err := utils.ParseInt64("1234567890")
	require.NoError(t, err)
	require.Equal(t, int64(1234567890), v)

	v, err = utils.ParseInt64("  42 ")
	require.NoError(t, err)
	require.Equal(t, int64(42), v)

	_, err = utils.ParseInt64("")
	require.ErrorIs(t, err, utils.ErrEmptyString)

	_, err = utils.ParseInt64("   ")
	require.ErrorIs(t, err, utils.ErrEmptyString)

	_, err = utils.ParseInt64("12.5")
	require.ErrorIs(t, err, utils.ErrInvalidInt)

	_, err = utils.ParseInt64("abc")
	require.ErrorIs(t, err, utils.ErrInvalidInt)
}

func TestFirstDigitRun(t *testing.T) {
	for _, tc := range []struct {
		input string
		want  int64
	}{
		{"12", 12},
		{"D-12 district", 12},
		{"district 7 north", 7},
		{"150", 150},
		{"a1b2c3", 1},
	} {
		v, err := utils.FirstDigitRun(tc.input)
		require.NoError(t, err, "input %q", tc.input)
		require.Equal(t, tc.want, v, "input %q", tc.input)
	}

	_, err := utils.FirstDigitRun("no digits here")
	require.ErrorIs(t, err, utils.ErrNoDigitRun)

	_, err = utils.FirstDigitRun("")
	require.ErrorIs(t, err, utils.ErrNoDigitRun)
}

func TestInt64ToString(t *testing.T) {
	require.Equal(t, "12345678", utils.Int64ToString(12345678))
	require.Equal(t, "-7", utils.Int64ToString(-7))
	require.Equal(t, "0", utils.Int64ToString(0))
}
