package container

import (
	"fmt"
	"strings"
)

// Sibling positions are base-62 fractions written as digit strings; keys
// compare as plain strings. A key is never empty and never ends in the
// smallest digit, so there is always room for another key on either side.
const positionDigits = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

func validPosition(key string) bool {
	if key == "" || key[len(key)-1] == positionDigits[0] {
		return false
	}
	for i := 0; i < len(key); i++ {
		if strings.IndexByte(positionDigits, key[i]) < 0 {
			return false
		}
	}
	return true
}

// positionBetween returns a key strictly between left and right. An empty
// left means the start of the sibling list, an empty right its end.
func positionBetween(left, right string) (string, error) {
	switch {
	case left != "" && !validPosition(left):
		return "", fmt.Errorf("%w: position %q", ErrInvalidState, left)
	case right != "" && !validPosition(right):
		return "", fmt.Errorf("%w: position %q", ErrInvalidState, right)
	case left != "" && right != "" && left >= right:
		return "", fmt.Errorf("%w: position %q is not below %q", ErrInvalidState, left, right)
	}
	return midpoint(left, right), nil
}

// midpoint requires left < right, or right empty for no upper bound.
func midpoint(left, right string) string {
	if right != "" {
		n := 0
		for n < len(right) && digitAt(left, n) == right[n] {
			n++
		}
		if n > 0 {
			rest := ""
			if n < len(left) {
				rest = left[n:]
			}
			return right[:n] + midpoint(rest, right[n:])
		}
	}

	lo := 0
	if left != "" {
		lo = strings.IndexByte(positionDigits, left[0])
	}
	hi := len(positionDigits)
	if right != "" {
		hi = strings.IndexByte(positionDigits, right[0])
	}
	if hi-lo > 1 {
		return string(positionDigits[(lo+hi+1)/2])
	}
	if len(right) > 1 {
		return right[:1]
	}
	rest := ""
	if len(left) > 1 {
		rest = left[1:]
	}
	return string(positionDigits[lo]) + midpoint(rest, "")
}

func digitAt(key string, i int) byte {
	if i < len(key) {
		return key[i]
	}
	return positionDigits[0]
}
