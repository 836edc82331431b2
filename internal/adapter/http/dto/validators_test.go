package dto

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// --- SanitizeStruct tests ---

func TestSanitizeStruct_TrimsWhitespace(t *testing.T) {
	req := LoginRequest{
		Username: "  operator  ",
		Password: "  pass1234  ",
	}
	SanitizeStruct(&req)

	assert.Equal(t, "operator", req.Username)
	assert.Equal(t, "pass1234", req.Password)
}

func TestSanitizeStruct_EscapesHTML(t *testing.T) {
	req := LoginRequest{
		Username: "operator <script>alert('x')</script>",
		Password: "p",
	}
	SanitizeStruct(&req)

	assert.Contains(t, req.Username, "&lt;script&gt;")
	assert.NotContains(t, req.Username, "<script>")
}

func TestSanitizeStruct_HandlesPointerField(t *testing.T) {
	req := RefundRequest{
		ToAddress: "  0xabc123  ",
	}
	SanitizeStruct(&req)

	assert.Equal(t, "0xabc123", req.ToAddress)
}

func TestSanitizeStruct_NilPointerIsNoOp(t *testing.T) {
	req := RefundRequest{Amount: nil}
	SanitizeStruct(&req)
	assert.Nil(t, req.Amount)
}

func TestSanitizeStruct_NonPointerIsNoOp(t *testing.T) {
	s := "hello"
	SanitizeStruct(s) // should not panic
}

// --- Custom Validator tests ---

func TestSafeID_Valid(t *testing.T) {
	cases := []string{
		"0xAbC123",
		"tr_9f2",
		"a.b.c",
		"simple123",
		"ABC-def_GHI.123",
	}
	for _, tc := range cases {
		assert.True(t, safeStringRe.MatchString(tc), "expected valid: %s", tc)
	}
}

func TestSafeID_Invalid(t *testing.T) {
	cases := []string{
		"0x abc",      // space
		"addr<001>",   // angle brackets
		"id;DROP",     // semicolon
		"",            // empty
		"hello world", // space
		"id\n001",     // newline
	}
	for _, tc := range cases {
		assert.False(t, safeStringRe.MatchString(tc), "expected invalid: %s", tc)
	}
}

func TestSafeURL(t *testing.T) {
	valid := []string{
		"https://shop.example.com/checkout/received",
		"http://localhost:8080/cart",
		"", // optional field
	}
	for _, tc := range valid {
		assert.True(t, checkSafeURL(tc), "expected valid: %s", tc)
	}

	invalid := []string{
		"ftp://example.com/x",
		"javascript:alert(1)",
		"not a url",
	}
	for _, tc := range invalid {
		assert.False(t, checkSafeURL(tc), "expected invalid: %s", tc)
	}
}
