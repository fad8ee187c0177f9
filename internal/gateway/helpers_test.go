package gateway

import (
	"math"
	"strconv"
)

func nan() float64 { return math.NaN() }

func itoa(n int64) string { return strconv.FormatInt(n, 10) }
