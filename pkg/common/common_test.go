package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGenerateReference(t *testing.T) {
	ref := GenerateReference()
	if len(ref) != 10 {
		t.Errorf("Expected length 10, got %d", len(ref))
	}

	validChars := "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	for _, char := range ref {
		isValid := false
		for _, validChar := range validChars {
			if char == validChar {
				isValid = true
				break
			}
		}
		if !isValid {
			t.Errorf("Invalid character found: %c", char)
		}
	}
}

func TestNormalizePhone(t *testing.T) {
	cases := map[string]string{
		"0712345678":     "254712345678",
		"+254712345678":  "254712345678",
		"254712345678":   "254712345678",
		"712345678":      "254712345678",
		"0712 345 678":   "254712345678",
		"+254-712345678": "254712345678",
	}
	for in, want := range cases {
		got, err := NormalizePhone(in)
		assert.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := NormalizePhone("no digits here")
	assert.Error(t, err)
}

func TestJoinName(t *testing.T) {
	assert.Equal(t, "John Doe", JoinName("John", "", "Doe"))
	assert.Equal(t, "John M Doe", JoinName("John", "M", "Doe"))
	assert.Equal(t, "", JoinName("", "", ""))
	assert.Equal(t, "John", JoinName(" John ", "  "))
}

func TestPaginateResponse(t *testing.T) {
	total := int64(100)
	data := []string{"item1", "item2"}

	res := PaginateResponse(data, total, 1, 10, "")
	assert.Equal(t, 1, res.CurrentPage)
	assert.Equal(t, 10, res.LastPage)
	assert.Equal(t, 2, res.NextPage)
	assert.Equal(t, 0, res.PrevPage)
	assert.Equal(t, int64(100), res.Count)
	assert.Equal(t, "success", res.Message)

	// Last page has no next page.
	res = PaginateResponse(data, total, 10, 10, "")
	assert.Equal(t, 0, res.NextPage)

	// Middle page navigates both ways.
	res = PaginateResponse(data, total, 5, 10, "")
	assert.Equal(t, 4, res.PrevPage)
	assert.Equal(t, 6, res.NextPage)
}
