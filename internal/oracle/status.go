package oracle

import (
	"fmt"
	"math/rand/v2"
	"sync"
	"time"
)

// StatusCode is the flight status an oracle reports.
type StatusCode uint8

const (
	StatusUnknown       StatusCode = 0
	StatusOnTime        StatusCode = 10
	StatusLateAirline   StatusCode = 20
	StatusLateWeather   StatusCode = 30
	StatusLateTechnical StatusCode = 40
	StatusLateOther     StatusCode = 50
)

// StatusCodes lists every status code in ascending order.
var StatusCodes = [...]StatusCode{
	StatusUnknown,
	StatusOnTime,
	StatusLateAirline,
	StatusLateWeather,
	StatusLateTechnical,
	StatusLateOther,
}

func (s StatusCode) String() string {
	switch s {
	case StatusUnknown:
		return "unknown"
	case StatusOnTime:
		return "on-time"
	case StatusLateAirline:
		return "late-airline"
	case StatusLateWeather:
		return "late-weather"
	case StatusLateTechnical:
		return "late-technical"
	case StatusLateOther:
		return "late-other"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// Valid reports whether s is one of StatusCodes.
func (s StatusCode) Valid() bool {
	return s <= StatusLateOther && s%10 == 0
}

// StatusGenerator hands out the status code an oracle will report for its
// whole lifetime. Implementations must be safe for concurrent use.
type StatusGenerator interface {
	Next() StatusCode
}

// RandomStatus draws uniformly from StatusCodes.
type RandomStatus struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandomStatus returns a generator seeded with seed. The same seed yields
// the same sequence; zero seeds from the clock.
func NewRandomStatus(seed uint64) *RandomStatus {
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return &RandomStatus{rng: rand.New(rand.NewPCG(seed, seed>>1|1))}
}

func (g *RandomStatus) Next() StatusCode {
	g.mu.Lock()
	defer g.mu.Unlock()
	return StatusCodes[g.rng.IntN(len(StatusCodes))]
}

// FixedStatus always returns itself.
type FixedStatus StatusCode

func (f FixedStatus) Next() StatusCode { return StatusCode(f) }

// StatusFunc adapts a function to StatusGenerator.
type StatusFunc func() StatusCode

func (f StatusFunc) Next() StatusCode { return f() }
