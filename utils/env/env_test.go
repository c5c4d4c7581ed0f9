package env

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func fatalPanics(t *testing.T) {
	original := logFatalf
	logFatalf = func(format string, args ...any) {
		panic(fmt.Sprintf(format, args...))
	}
	t.Cleanup(func() { logFatalf = original })
}

func TestOptionalStringVariable(t *testing.T) {
	t.Setenv("HOROSCOPE_TEST_STRING", "value")
	assert.Equal(t, "value", OptionalStringVariable("HOROSCOPE_TEST_STRING", "default"))
	assert.Equal(t, "default", OptionalStringVariable("HOROSCOPE_TEST_MISSING", "default"))

	t.Setenv("HOROSCOPE_TEST_EMPTY", "")
	assert.Equal(t, "", OptionalStringVariable("HOROSCOPE_TEST_EMPTY", "default"))
}

func TestOptionalIntVariable(t *testing.T) {
	fatalPanics(t)

	t.Setenv("HOROSCOPE_TEST_INT", "30")
	assert.Equal(t, 30, OptionalIntVariable("HOROSCOPE_TEST_INT", 1))
	assert.Equal(t, 1, OptionalIntVariable("HOROSCOPE_TEST_MISSING", 1))

	t.Setenv("HOROSCOPE_TEST_INT", "thirty")
	assert.Panics(t, func() { OptionalIntVariable("HOROSCOPE_TEST_INT", 1) })
}

func TestOptionalBoolVariable(t *testing.T) {
	fatalPanics(t)

	t.Setenv("HOROSCOPE_TEST_BOOL", "true")
	assert.True(t, OptionalBoolVariable("HOROSCOPE_TEST_BOOL", false))

	t.Setenv("HOROSCOPE_TEST_BOOL", "maybe")
	assert.Panics(t, func() { OptionalBoolVariable("HOROSCOPE_TEST_BOOL", false) })
}

func TestOptionalFloatVariable(t *testing.T) {
	fatalPanics(t)

	t.Setenv("HOROSCOPE_TEST_FLOAT", "0.25")
	assert.Equal(t, 0.25, OptionalFloatVariable("HOROSCOPE_TEST_FLOAT", 1))
	assert.Equal(t, 1.0, OptionalFloatVariable("HOROSCOPE_TEST_MISSING", 1))

	t.Setenv("HOROSCOPE_TEST_FLOAT", "quarter")
	assert.Panics(t, func() { OptionalFloatVariable("HOROSCOPE_TEST_FLOAT", 1) })
}

func TestOptionalListVariable(t *testing.T) {
	t.Setenv("HOROSCOPE_TEST_LIST", " https://a.example , ,https://b.example")
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, OptionalListVariable("HOROSCOPE_TEST_LIST", nil))
	assert.Equal(t, []string{"*"}, OptionalListVariable("HOROSCOPE_TEST_MISSING", []string{"*"}))
}
