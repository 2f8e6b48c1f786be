package main

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/wricardo/mcp-training/locationsync/relay/message"
)

// RandomTransforms returns n transforms with ids "<clientIP>:P1".. and
// data x, y in [0,100), yaw in [-180,180), scale in [0.5,3.5), each rounded
// to one decimal.
func RandomTransforms(rng *rand.Rand, clientIP string, n int) []message.Transform {
	out := make([]message.Transform, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, message.Transform{
			ID: fmt.Sprintf("%s:P%d", clientIP, i),
			Data: [message.TransformSize]float64{
				round1(rng.Float64() * 100),
				round1(rng.Float64() * 100),
				round1(rng.Float64()*360 - 180),
				round1(rng.Float64()*3 + 0.5),
			},
		})
	}
	return out
}

// SimulatedIP picks an address in 192.168.1.0/24.
func SimulatedIP(rng *rand.Rand) string {
	return fmt.Sprintf("192.168.1.%d", rng.Intn(255))
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
