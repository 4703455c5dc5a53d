package lockscreen

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFormatRemaining(t *testing.T) {
	for d, want := range map[time.Duration]string{
		-time.Second:                       "0:00",
		0:                                  "0:00",
		time.Millisecond:                   "0:01",
		59 * time.Second:                   "0:59",
		61 * time.Second:                   "1:01",
		600000 * time.Millisecond:          "10:00",
		599*time.Second + time.Millisecond: "10:00",
	} {
		require.Equal(t, want, formatRemaining(d), d.String())
	}
}
