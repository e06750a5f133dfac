package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestValidateTimezone(t *testing.T) {
	assert.NoError(t, ValidateTimezone("UTC"))
	assert.NoError(t, ValidateTimezone("Asia/Tokyo"))
	assert.Error(t, ValidateTimezone(""))
	assert.Error(t, ValidateTimezone("Mars/Olympus"))
}

func TestValidateRanges(t *testing.T) {
	assert.NoError(t, ValidateIntRange(1, 1, 10))
	assert.NoError(t, ValidateIntRange(10, 1, 10))
	assert.Error(t, ValidateIntRange(0, 1, 10))
	assert.Error(t, ValidateIntRange(11, 1, 10))

	assert.NoError(t, ValidateDuration(time.Minute, time.Second, time.Hour))
	assert.Error(t, ValidateDuration(time.Millisecond, time.Second, time.Hour))

	assert.NoError(t, ValidateFloatRange(1, 0, 1))
	assert.Error(t, ValidateFloatRange(0, 0, 1))
}
