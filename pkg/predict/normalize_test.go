package predict

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeQuery(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"What is the weather in March 2024", "what is the weather in {month} {year}"},
		{"  Flights on Friday, Dec 3  ", "flights on {day}, {month} {num}"},
		{"Top 10 movies of 1999", "top {num} movies of {year}"},
		{"port 8080", "port {num}"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, NormalizeQuery(c.in), c.in)
	}
}

func TestSignatureCollapsesDates(t *testing.T) {
	a := Signature("What is the weather in March 2024")
	b := Signature("What is the weather in June 2023")
	assert.Equal(t, "weather {month} {year}", a)
	assert.Equal(t, a, b)
}

func TestExtractSignatureKeepsFiveImportantWords(t *testing.T) {
	sig := ExtractSignature("how do i write a fast concurrent http server in golang with tls today")
	assert.Equal(t, "write fast concurrent http server", sig)

	assert.Empty(t, ExtractSignature("is it on to be"))
	assert.Equal(t, "capital france", Signature("What is the capital of France?"))
}

func TestWordOverlap(t *testing.T) {
	assert.InDelta(t, 1.0, wordOverlap("weather {month} {year}", "{year} weather {month}"), 1e-9)
	assert.InDelta(t, 2.0/3.0, wordOverlap("weather {month} {year}", "weather {month}"), 1e-9)
	assert.Zero(t, wordOverlap("", ""))
}
