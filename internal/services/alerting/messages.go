package alerting

import (
	"fmt"
	"strconv"
)

func downtimeMessage(name, cause string) string {
	return fmt.Sprintf("Node %s is down: %s", name, cause)
}

func stagnationMessage(name string, n int, last *float64) string {
	s := "n/a"
	if last != nil {
		s = strconv.FormatFloat(*last, 'f', -1, 64)
	}
	return fmt.Sprintf("Node %s score has not increased for %d consecutive checks (last score %s)", name, n, s)
}
